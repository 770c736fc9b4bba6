package convert

import (
	"fmt"

	"go.uber.org/multierr"
)

// Kind classifies per-file failures
type Kind string

const (
	KindDecode    Kind = "decode"
	KindEmpty     Kind = "empty"
	KindTransform Kind = "transform"
	KindWrite     Kind = "write"
)

// FileError is a failure converting a single source file. It never stops
// the rest of the run.
type FileError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// RunError reports every file that failed during a run
type RunError struct {
	Failed int
	Total  int
	Err    error // combined *FileError values
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%d of %d files failed: %v", e.Failed, e.Total, e.Err)
}

// Unwrap exposes the individual file errors to errors.Is and errors.As
func (e *RunError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// FileErrors returns the individual failures in the order they were recorded
func (e *RunError) FileErrors() []*FileError {
	var out []*FileError
	for _, err := range multierr.Errors(e.Err) {
		if fe, ok := err.(*FileError); ok {
			out = append(out, fe)
		}
	}
	return out
}
