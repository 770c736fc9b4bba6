package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/internal/transform"
	"github.com/kiesman99/dpsconvert/pkg/tile"
)

func writePNG(t *testing.T, fs afero.Fs, path string, img image.Image) {
	t.Helper()
	data, err := tile.EncodePNG(img)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func readPNG(t *testing.T, fs afero.Fs, path string) *image.NRGBA {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	img, err := tile.DecodeImage(data)
	require.NoError(t, err)
	return img
}

func opaque(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{R: 10, G: 120, B: 230, A: 255})
}

func newConverter(t *testing.T, fs afero.Fs, source, output string, p tile.Params) *Converter {
	t.Helper()
	c, err := New(fs, &Options{
		Source:    source,
		Output:    output,
		Transform: transform.DefaultOptions(p),
	})
	require.NoError(t, err)
	return c
}

func seedTree(t *testing.T, fs afero.Fs) {
	t.Helper()
	writePNG(t, fs, "/maps/dungeon/hall.png", opaque(480, 320))
	writePNG(t, fs, "/maps/dungeon/CRYPT.PNG", opaque(100, 500))
	writePNG(t, fs, "/maps/caves/empty.png", image.NewNRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, afero.WriteFile(fs, "/maps/caves/broken.png", []byte("not a png"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/maps/notes.txt", []byte("hello"), 0o644))
	writePNG(t, fs, "/maps/converted/old/hall/img.png", opaque(10, 10))
	require.NoError(t, fs.MkdirAll("/out", 0o755))
}

func TestRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedTree(t, fs)

	c := newConverter(t, fs, "/maps", "/out", tile.Params{PixelsPerUnit: 40, UnitsPerSquare: 5})
	summary, err := c.Run(context.Background())

	assert.Equal(t, &Summary{Total: 4, Converted: 2, Failed: 2}, summary)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 2, runErr.Failed)
	assert.Equal(t, 4, runErr.Total)

	kinds := map[string]Kind{}
	for _, fe := range runErr.FileErrors() {
		kinds[filepath.Base(fe.Path)] = fe.Kind
	}
	assert.Equal(t, map[string]Kind{"broken.png": KindDecode, "empty.png": KindEmpty}, kinds)
	assert.ErrorIs(t, err, transform.ErrEmptyImage)

	hall := readPNG(t, fs, "/out/dungeon/hall/img.png")
	assert.Equal(t, image.Pt(600, 400), hall.Bounds().Size())
	preview := readPNG(t, fs, "/out/dungeon/hall/_preview.png")
	assert.Equal(t, image.Pt(100, 67), preview.Bounds().Size())

	crypt := readPNG(t, fs, "/out/dungeon/CRYPT/img.png")
	assert.Equal(t, image.Pt(200, 600), crypt.Bounds().Size())

	for _, path := range []string{"/out/caves/empty", "/out/caves/broken", "/out/converted", "/out/old"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestRunSkipsOutputInsideSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/maps/town/square.png", opaque(200, 200))
	require.NoError(t, fs.MkdirAll("/maps/export", 0o755))

	c := newConverter(t, fs, "/maps", "/maps/export", tile.Params{})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Converted)

	// Second run must not pick up its own output
	summary, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Total: 1, Converted: 1}, summary)
}

func TestRunIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/maps/a/b.png", opaque(321, 123))

	c := newConverter(t, fs, "/maps", "/out", tile.Params{PixelsPerUnit: 25, UnitsPerSquare: 5, OptimizeTarget: 150})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	first, err := afero.ReadFile(fs, "/out/a/b/img.png")
	require.NoError(t, err)
	firstPreview, err := afero.ReadFile(fs, "/out/a/b/_preview.png")
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)
	second, err := afero.ReadFile(fs, "/out/a/b/img.png")
	require.NoError(t, err)
	secondPreview, err := afero.ReadFile(fs, "/out/a/b/_preview.png")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstPreview, secondPreview)

	// No temporary files are left behind
	entries, err := afero.ReadDir(fs, "/out/a/b")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{tile.PreviewName, tile.ImageName}, names)
}

func TestRunConcurrentWorkers(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := 0; i < 12; i++ {
		writePNG(t, fs, fmt.Sprintf("/maps/set%d/map%02d.png", i%3, i), opaque(50+i*40, 80))
	}
	writePNG(t, fs, "/maps/set1/blank.png", image.NewNRGBA(image.Rect(0, 0, 5, 5)))

	c, err := New(fs, &Options{
		Source:    "/maps",
		Output:    "/out",
		Workers:   4,
		Transform: transform.DefaultOptions(tile.Params{PixelsPerUnit: 10, UnitsPerSquare: 5}),
	})
	require.NoError(t, err)

	summary, err := c.Run(context.Background())
	assert.Equal(t, &Summary{Total: 13, Converted: 12, Failed: 1}, summary)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.FileErrors(), 1)
	assert.Equal(t, KindEmpty, runErr.FileErrors()[0].Kind)

	for i := 0; i < 12; i++ {
		img := readPNG(t, fs, fmt.Sprintf("/out/set%d/map%02d/img.png", i%3, i))
		f, err := tile.FootprintOf(image.Pt(50+i*40, 80), 50)
		require.NoError(t, err)
		assert.Equal(t, f.Scale(200), img.Bounds().Size())
	}
}

func TestRunWriteError(t *testing.T) {
	base := afero.NewMemMapFs()
	writePNG(t, base, "/maps/a/one.png", opaque(10, 10))
	writePNG(t, base, "/maps/a/two.png", opaque(10, 10))

	fs := afero.NewReadOnlyFs(base)
	c := newConverter(t, fs, "/maps", "/out", tile.Params{})

	summary, err := c.Run(context.Background())
	assert.Equal(t, &Summary{Total: 2, Failed: 2}, summary)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	for _, fe := range runErr.FileErrors() {
		assert.Equal(t, KindWrite, fe.Kind)
	}
}

func TestRunMissingSource(t *testing.T) {
	c := newConverter(t, afero.NewMemMapFs(), "/nowhere", "/out", tile.Params{})

	_, err := c.Run(context.Background())
	require.Error(t, err)

	var runErr *RunError
	assert.False(t, errors.As(err, &runErr))
}

func TestRunCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/maps/a/one.png", opaque(10, 10))

	var logs bytes.Buffer
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logging.New(&logs, log.InfoLevel)))
	cancel()

	summary, err := newConverter(t, fs, "/maps", "/out", tile.Params{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Converted)

	// An interrupted run still reports how far it got
	assert.Contains(t, logs.String(), "Stopped after converting 0 of 0 images")
}

func TestRunTooLargeFailsPerFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/maps/a/one.png", opaque(10, 10))
	writePNG(t, fs, "/maps/a/two.png", opaque(10, 10))

	c := newConverter(t, fs, "/maps", "/out", tile.Params{PixelsPerUnit: 1 << 20, UnitsPerSquare: 1 << 20})

	summary, err := c.Run(context.Background())
	assert.Equal(t, &Summary{Total: 2, Failed: 2}, summary)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.FileErrors(), 2)
	for _, fe := range runErr.FileErrors() {
		assert.Equal(t, KindTransform, fe.Kind)
	}
	assert.ErrorIs(t, err, tile.ErrTooLarge)
}

func TestConvertFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePNG(t, fs, "/maps/keep/tower.png", opaque(90, 410))

	c := newConverter(t, fs, "/maps", "/out", tile.Params{PixelsPerUnit: 20, UnitsPerSquare: 5})
	target, err := c.ConvertFile(context.Background(), "/maps/keep/tower.png")
	require.NoError(t, err)
	assert.Equal(t, TargetFor("/out", "/maps/keep/tower.png"), *target)

	// 90x410 at 100px per square is 1x5 squares
	assert.Equal(t, image.Pt(200, 1000), readPNG(t, fs, target.ImagePath).Bounds().Size())
	assert.Equal(t, image.Pt(20, 100), readPNG(t, fs, target.PreviewPath).Bounds().Size())
}

func TestNewValidation(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := New(fs, &Options{Output: "/out"})
	assert.Error(t, err)

	_, err = New(fs, &Options{Source: "/maps", Output: "/out", Transform: transform.DefaultOptions(tile.Params{OptimizeTarget: -1})})
	assert.Error(t, err)

	c, err := New(fs, &Options{Source: "/maps", Output: "/out"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Options().Workers)
}
