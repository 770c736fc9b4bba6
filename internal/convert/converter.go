// Package convert walks a source tree and writes the Dungeon Painter Studio
// assets for every map image it finds.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/internal/transform"
	"github.com/kiesman99/dpsconvert/pkg/tile"
)

// Options contains everything needed for one run
type Options struct {
	Source    string
	Output    string
	Workers   int
	Transform *transform.Options
}

// Summary counts the files seen by a run
type Summary struct {
	Total     int
	Converted int
	Failed    int
}

// Converter handles the batch conversion of a directory tree
type Converter struct {
	fs          afero.Fs
	options     *Options
	filter      Filter
	transformer *transform.Transformer
}

// New creates a converter working on fs
func New(fs afero.Fs, opts *Options) (*Converter, error) {
	if opts.Source == "" || opts.Output == "" {
		return nil, errors.New("source and output directories are required")
	}

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, err
	}
	output, err := filepath.Abs(opts.Output)
	if err != nil {
		return nil, err
	}

	transformer, err := transform.New(opts.Transform)
	if err != nil {
		return nil, err
	}

	o := *opts
	o.Source = source
	o.Output = output
	if o.Workers < 1 {
		o.Workers = 1
	}

	return &Converter{
		fs:      fs,
		options: &o,
		filter: Filter{
			Ext:          tile.SourceExt,
			ExcludeNames: []string{tile.OutputDirName},
			ExcludePaths: []string{output},
		},
		transformer: transformer,
	}, nil
}

// Run converts every matching file below the source directory. A failing
// file is logged and recorded, the walk carries on. The returned error is a
// *RunError if any file failed, or the walk/context error that stopped the
// run early.
func (c *Converter) Run(ctx context.Context) (*Summary, error) {
	logger := logging.FromContext(ctx)
	progress := logging.NewProgress(logger)

	var (
		mu      sync.Mutex
		summary Summary
		errs    error
	)

	p := pool.New().WithMaxGoroutines(c.options.Workers)

	walkErr := afero.Walk(c.fs, c.options.Source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == c.options.Source {
				return err
			}
			logger.Warn("Skipping unreadable path", "path", path, "err", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if path != c.options.Source && c.filter.SkipDir(path, info) {
				logger.Debug("Skipping directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		if !c.filter.Match(path, info) {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		mu.Lock()
		summary.Total++
		mu.Unlock()

		p.Go(func() {
			_, err := c.ConvertFile(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				errs = multierr.Append(errs, err)
				return
			}
			summary.Converted++
		})
		return nil
	})

	p.Wait()

	if walkErr != nil {
		progress.Done(fmt.Sprintf("Stopped after converting %d of %d images", summary.Converted, summary.Total),
			"failed", summary.Failed, "err", walkErr)
		return &summary, fmt.Errorf("walk %s: %w", c.options.Source, walkErr)
	}

	progress.Done(fmt.Sprintf("Converted %d of %d images", summary.Converted, summary.Total))

	if summary.Failed > 0 {
		return &summary, &RunError{
			Failed: summary.Failed,
			Total:  summary.Total,
			Err:    errs,
		}
	}
	return &summary, nil
}

// ConvertFile converts a single source file and writes its assets. Any error
// returned is a *FileError.
func (c *Converter) ConvertFile(ctx context.Context, path string) (*Target, error) {
	logger := logging.FromContext(ctx)
	logger.Info("Processing " + path)

	target, err := c.convertFile(ctx, path)
	if err != nil {
		var fe *FileError
		if errors.As(err, &fe) {
			logger.Error("Conversion failed", "file", fe.Path, "kind", fe.Kind, "err", fe.Err)
		}
		return nil, err
	}

	logger.Debug("Wrote assets", "dir", target.Dir)
	return target, nil
}

func (c *Converter) convertFile(ctx context.Context, path string) (*Target, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, &FileError{Path: path, Kind: KindDecode, Err: err}
	}

	img, err := tile.DecodeImage(data)
	if err != nil {
		return nil, &FileError{Path: path, Kind: KindDecode, Err: err}
	}

	res, err := c.transformer.Transform(ctx, img)
	if err != nil {
		kind := KindTransform
		if errors.Is(err, transform.ErrEmptyImage) {
			kind = KindEmpty
		}
		return nil, &FileError{Path: path, Kind: kind, Err: err}
	}
	logging.FromContext(ctx).Debug("Transformed", "file", path, "result", res)

	target := TargetFor(c.options.Output, path)
	if err := c.write(target, res); err != nil {
		return nil, &FileError{Path: path, Kind: KindWrite, Err: err}
	}

	return &target, nil
}

// write encodes both assets before touching the filesystem so that an encode
// failure leaves nothing behind
func (c *Converter) write(t Target, res *transform.Result) error {
	preview, err := tile.EncodePNG(res.Preview)
	if err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	img, err := tile.EncodePNG(res.Final)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}

	if err := c.fs.MkdirAll(t.Dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(c.fs, t.PreviewPath, preview); err != nil {
		return err
	}
	return writeFile(c.fs, t.ImagePath, img)
}

// Options returns the resolved run options
func (c *Converter) Options() Options {
	return *c.options
}
