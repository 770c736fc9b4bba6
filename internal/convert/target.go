package convert

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/kiesman99/dpsconvert/pkg/tile"
)

// Target is where the assets of one source file are written
type Target struct {
	Dir         string
	PreviewPath string
	ImagePath   string
}

// TargetFor builds output/<parent directory name>/<file name without
// extension> for the source file at path
func TargetFor(output, path string) Target {
	parent := filepath.Base(filepath.Dir(path))
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = base
	}

	dir := filepath.Join(output, parent, name)
	return Target{
		Dir:         dir,
		PreviewPath: filepath.Join(dir, tile.PreviewName),
		ImagePath:   filepath.Join(dir, tile.ImageName),
	}
}

// writeFile replaces path with data by writing a temporary sibling and
// renaming it into place
func writeFile(fs afero.Fs, path string, data []byte) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(name)
		return err
	}
	if err := fs.Chmod(name, 0o644); err != nil {
		fs.Remove(name)
		return err
	}
	if err := fs.Rename(name, path); err != nil {
		fs.Remove(name)
		return err
	}
	return nil
}
