package convert

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetFor(t *testing.T) {
	tests := []struct {
		output string
		path   string
		want   string
	}{
		{"/out", "/maps/dungeon/hall.png", "/out/dungeon/hall"},
		{"/out", "/maps/dungeon/hall.v2.PNG", "/out/dungeon/hall.v2"},
		{"/out", "/maps/top.png", "/out/maps/top"},
		{"/out/", "/maps/a/b/c/deep.png", "/out/c/deep"},
		{"/out", "/maps/a/.png", "/out/a/.png"},
	}

	for _, tt := range tests {
		got := TargetFor(tt.output, tt.path)
		want := filepath.FromSlash(tt.want)
		assert.Equal(t, want, got.Dir, tt.path)
		assert.Equal(t, filepath.Join(want, "_preview.png"), got.PreviewPath)
		assert.Equal(t, filepath.Join(want, "img.png"), got.ImagePath)
	}
}

func TestWriteFileOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))

	require.NoError(t, writeFile(fs, "/out/img.png", []byte("first")))
	require.NoError(t, writeFile(fs, "/out/img.png", []byte("second")))

	data, err := afero.ReadFile(fs, "/out/img.png")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/src/a.png", "/src/b.PnG", "/src/c.jpg", "/src/png"} {
		require.NoError(t, afero.WriteFile(fs, p, nil, 0o644))
	}
	for _, d := range []string{"/src/converted", "/src/export", "/src/maps"} {
		require.NoError(t, fs.MkdirAll(d, 0o755))
	}

	f := Filter{Ext: ".png", ExcludeNames: []string{"converted"}, ExcludePaths: []string{"/src/export/"}}

	match := func(p string) bool {
		info, err := fs.Stat(p)
		require.NoError(t, err)
		return f.Match(p, info)
	}
	skip := func(p string) bool {
		info, err := fs.Stat(p)
		require.NoError(t, err)
		return f.SkipDir(p, info)
	}

	assert.True(t, match("/src/a.png"))
	assert.True(t, match("/src/b.PnG"))
	assert.False(t, match("/src/c.jpg"))
	assert.False(t, match("/src/png"))
	assert.False(t, match("/src/maps"))

	assert.True(t, skip("/src/converted"))
	assert.True(t, skip("/src/export"))
	assert.False(t, skip("/src/maps"))
}
