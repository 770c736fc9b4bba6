package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, Level(true))
	assert.Equal(t, log.InfoLevel, Level(false))
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, log.InfoLevel)

	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	FromContext(ctx).Info("hello", "file", "a.png")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "a.png")
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, log.Default(), FromContext(context.Background()))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, log.InfoLevel)
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	NewProgress(l).Done("Converted 3 images")
	assert.Contains(t, buf.String(), "Converted 3 images")
	assert.Contains(t, buf.String(), "elapsed")
}
