package convert

import (
	"os"
	"path/filepath"
	"strings"
)

// Filter decides which parts of the source tree are visited
type Filter struct {
	Ext          string   // matched case-insensitively
	ExcludeNames []string // directory names that are never entered
	ExcludePaths []string // absolute directory paths that are never entered
}

// SkipDir reports whether the directory at path must not be walked
func (f Filter) SkipDir(path string, info os.FileInfo) bool {
	for _, name := range f.ExcludeNames {
		if info.Name() == name {
			return true
		}
	}
	clean := filepath.Clean(path)
	for _, p := range f.ExcludePaths {
		if clean == filepath.Clean(p) {
			return true
		}
	}
	return false
}

// Match reports whether the file at path should be converted
func (f Filter) Match(path string, info os.FileInfo) bool {
	if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	return strings.HasSuffix(strings.ToLower(info.Name()), strings.ToLower(f.Ext))
}
