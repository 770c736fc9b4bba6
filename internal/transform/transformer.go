// Package transform fits map images onto a square grid and derives the preview
// and full size rasters from the padded canvas.
package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/pkg/tile"
)

// ErrEmptyImage is returned when a source image has no visible pixels, so
// there is no bounding box to crop to.
var ErrEmptyImage = errors.New("image is fully transparent")

// Options contains all transformation parameters
type Options struct {
	Params tile.Params
	Layout tile.Layout

	// Preview and optimize passes smooth, the final pass only samples
	PreviewFilter  imaging.ResampleFilter
	OptimizeFilter imaging.ResampleFilter
	FinalFilter    imaging.ResampleFilter
}

// DefaultOptions returns the options matching the Dungeon Painter Studio
// asset layout for the given parameters
func DefaultOptions(p tile.Params) *Options {
	return &Options{
		Params:         p,
		Layout:         tile.DefaultLayout(),
		PreviewFilter:  imaging.Lanczos,
		OptimizeFilter: imaging.Lanczos,
		FinalFilter:    imaging.NearestNeighbor,
	}
}

// Unit returns the scaled pixels per square for these options
func (o *Options) Unit() int {
	return o.Params.ScaledUnit(o.Layout.FallbackUnit)
}

// Validate checks params and layout
func (o *Options) Validate() error {
	if err := o.Params.Validate(); err != nil {
		return err
	}
	return o.Layout.Validate()
}

// Result contains every raster derived from one source image
type Result struct {
	Unit      int
	Footprint tile.Footprint
	Bounds    image.Rectangle // visible content in source coordinates
	Offset    image.Point     // position of the content on the canvas
	Canvas    *image.NRGBA
	Optimized *image.NRGBA // nil unless Params.OptimizeTarget is set
	Preview   *image.NRGBA
	Final     *image.NRGBA
}

// Transformer turns source images into grid aligned assets
type Transformer struct {
	opts *Options
}

// New creates a transformer. Nil options mean DefaultOptions with no
// parameters.
func New(opts *Options) (*Transformer, error) {
	if opts == nil {
		opts = DefaultOptions(tile.Params{})
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Transformer{opts: opts}, nil
}

// Options returns the options the transformer was created with
func (t *Transformer) Options() Options {
	return *t.opts
}

// Transform runs crop, pad, preview, optional optimize and final resize on src
func (t *Transformer) Transform(ctx context.Context, src image.Image) (*Result, error) {
	logger := logging.FromContext(ctx)
	unit := t.opts.Unit()

	bounds, ok := BoundingBox(src)
	if !ok {
		return nil, ErrEmptyImage
	}
	cropped := imaging.Crop(src, bounds)

	footprint, err := tile.FootprintOf(cropped.Bounds().Size(), unit)
	if err != nil {
		return nil, err
	}

	canvas, offset, err := Pad(cropped, footprint, unit, t.opts.Layout)
	if err != nil {
		return nil, err
	}
	logger.Debug("Padded canvas",
		"crop", bounds, "footprint", footprint, "unit", unit,
		"canvas", canvas.Bounds().Size(), "offset", offset)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Unit:      unit,
		Footprint: footprint,
		Bounds:    bounds,
		Offset:    offset,
		Canvas:    canvas,
	}

	result.Preview = Preview(canvas, footprint, t.opts.Layout, t.opts.PreviewFilter)
	logger.Debug("Resized preview", "size", result.Preview.Bounds().Size())

	source := canvas
	if t.opts.Params.Optimize() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Optimized, err = Optimize(canvas, footprint, t.opts.Params.OptimizeTarget, t.opts.Layout, t.opts.OptimizeFilter)
		if err != nil {
			return nil, err
		}
		logger.Debug("Optimized canvas", "target", t.opts.Params.OptimizeTarget, "size", result.Optimized.Bounds().Size())
		source = result.Optimized
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Final, err = Final(source, footprint, t.opts.Layout, t.opts.FinalFilter)
	if err != nil {
		return nil, err
	}
	logger.Debug("Resized image", "size", result.Final.Bounds().Size())

	return result, nil
}

// BoundingBox returns the smallest rectangle containing every pixel with a
// non-zero alpha. ok is false when there is no such pixel.
func BoundingBox(img image.Image) (r image.Rectangle, ok bool) {
	b := img.Bounds()
	nrgba, isNRGBA := img.(*image.NRGBA)

	visible := func(x, y int) bool {
		if isNRGBA {
			return nrgba.Pix[nrgba.PixOffset(x, y)+3] != 0
		}
		_, _, _, a := img.At(x, y).RGBA()
		return a != 0
	}

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !visible(x, y) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}

	if maxX < minX || maxY < minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Crop cuts img down to its bounding box
func Crop(img image.Image) (*image.NRGBA, error) {
	bounds, ok := BoundingBox(img)
	if !ok {
		return nil, ErrEmptyImage
	}
	return imaging.Crop(img, bounds), nil
}

// Pad creates a transparent canvas of footprint squares of unit pixels and
// pastes img centered on it. Pixels are copied as they are, alpha included.
func Pad(img image.Image, footprint tile.Footprint, unit int, l tile.Layout) (*image.NRGBA, image.Point, error) {
	size, err := tile.CanvasSize(footprint, unit, l)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("canvas: %w", err)
	}
	canvas := imaging.New(size.X, size.Y, color.NRGBA{})
	offset := tile.CenterOffset(size, img.Bounds().Size())
	return imaging.Paste(canvas, img, offset), offset, nil
}

// Preview scales the canvas so that its longest side is Layout.PreviewPixels
func Preview(canvas image.Image, footprint tile.Footprint, l tile.Layout, filter imaging.ResampleFilter) *image.NRGBA {
	size := tile.PreviewSize(footprint, l.PreviewPixels)
	return imaging.Resize(canvas, size.X, size.Y, filter)
}

// Optimize scales the canvas to target pixels per square
func Optimize(canvas image.Image, footprint tile.Footprint, target int, l tile.Layout, filter imaging.ResampleFilter) (*image.NRGBA, error) {
	size, err := tile.OptimizeSize(footprint, target, l)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	return imaging.Resize(canvas, size.X, size.Y, filter), nil
}

// Final scales the canvas to Layout.ImagePixels per square
func Final(canvas image.Image, footprint tile.Footprint, l tile.Layout, filter imaging.ResampleFilter) (*image.NRGBA, error) {
	size, err := tile.ImageSize(footprint, l)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return imaging.Resize(canvas, size.X, size.Y, filter), nil
}

// String describes the result for log output
func (r *Result) String() string {
	return fmt.Sprintf("footprint %s, unit %d, preview %v, image %v",
		r.Footprint, r.Unit, r.Preview.Bounds().Size(), r.Final.Bounds().Size())
}
