package tile

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Output naming constants
const (
	PreviewName   = "_preview.png"
	ImageName     = "img.png"
	OutputDirName = "converted"
	SourceExt     = ".png"
)

// DefaultMaxPixels caps the area of every raster derived from a footprint
const DefaultMaxPixels = 1 << 28

// ErrTooLarge is returned when a derived raster would exceed the pixel limit
var ErrTooLarge = errors.New("image dimensions too large")

// Params holds the effective conversion parameters. A zero value means the
// parameter was not given.
type Params struct {
	PixelsPerUnit  int
	UnitsPerSquare int
	OptimizeTarget int
}

// Validate rejects negative parameters
func (p Params) Validate() error {
	if p.PixelsPerUnit < 0 {
		return fmt.Errorf("pixels per unit must be positive, got %d", p.PixelsPerUnit)
	}
	if p.UnitsPerSquare < 0 {
		return fmt.Errorf("units per square must be positive, got %d", p.UnitsPerSquare)
	}
	if p.OptimizeTarget < 0 {
		return fmt.Errorf("optimize target must be positive, got %d", p.OptimizeTarget)
	}
	return nil
}

// ScaledUnit returns the number of source pixels covered by one grid square.
// Both PixelsPerUnit and UnitsPerSquare have to be set, otherwise fallback is
// used. A product that overflows saturates at math.MaxInt.
func (p Params) ScaledUnit(fallback int) int {
	if p.PixelsPerUnit > 0 && p.UnitsPerSquare > 0 {
		if p.PixelsPerUnit > math.MaxInt/p.UnitsPerSquare {
			return math.MaxInt
		}
		return p.PixelsPerUnit * p.UnitsPerSquare
	}
	return fallback
}

// Optimize reports whether the print optimization pass should run
func (p Params) Optimize() bool {
	return p.OptimizeTarget > 0
}

// Layout contains the fixed sizes of the generated assets
type Layout struct {
	PreviewPixels int // longest preview side
	ImagePixels   int // pixels per square of the final image
	FallbackUnit  int // scaled unit when pixels/scale are not both given
	MaxPixels     int // largest area of the canvas, optimized or final image
}

// DefaultLayout returns the layout expected by Dungeon Painter Studio
func DefaultLayout() Layout {
	return Layout{
		PreviewPixels: 100,
		ImagePixels:   200,
		FallbackUnit:  200,
		MaxPixels:     DefaultMaxPixels,
	}
}

// Validate checks that all layout sizes are usable
func (l Layout) Validate() error {
	if l.PreviewPixels < 1 || l.ImagePixels < 1 || l.FallbackUnit < 1 || l.MaxPixels < 1 {
		return fmt.Errorf("invalid layout %+v: all sizes must be positive", l)
	}
	return nil
}

// Footprint is the size of an image in whole grid squares
type Footprint struct {
	Width  int
	Height int
}

func (f Footprint) String() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Scale returns the pixel size of the footprint with n pixels per square
func (f Footprint) Scale(n int) image.Point {
	return image.Pt(f.Width*n, f.Height*n)
}

// ScaleWithin is Scale for sizes that are going to be allocated. It fails
// with ErrTooLarge when the area would exceed maxPixels or overflow.
func (f Footprint) ScaleWithin(n, maxPixels int) (image.Point, error) {
	if n < 1 || f.Width < 1 || f.Height < 1 {
		return image.Point{}, fmt.Errorf("invalid size %s at %d pixels per square", f, n)
	}
	if f.Width > maxPixels/n || f.Height > maxPixels/n {
		return image.Point{}, fmt.Errorf("%s squares at %d pixels per square: %w", f, n, ErrTooLarge)
	}

	p := f.Scale(n)
	if p.X > maxPixels/p.Y {
		return image.Point{}, fmt.Errorf("%dx%d pixels exceeds %d: %w", p.X, p.Y, maxPixels, ErrTooLarge)
	}
	return p, nil
}

// Longest returns the larger of the two dimensions
func (f Footprint) Longest() int {
	if f.Width > f.Height {
		return f.Width
	}
	return f.Height
}
