package tile

import (
	"fmt"
	"image"
	"math"
)

// FootprintOf returns how many grid squares of unit pixels are needed to
// cover an image of the given size. Partial squares are rounded up.
func FootprintOf(size image.Point, unit int) (Footprint, error) {
	if unit < 1 {
		return Footprint{}, fmt.Errorf("scaled unit must be at least 1, got %d", unit)
	}
	if size.X <= 0 || size.Y <= 0 {
		return Footprint{}, fmt.Errorf("image size must be positive, got %dx%d", size.X, size.Y)
	}

	return Footprint{
		Width:  ceilDiv(size.X, unit),
		Height: ceilDiv(size.Y, unit),
	}, nil
}

// ceilDiv expects a > 0 and b > 0
func ceilDiv(a, b int) int {
	return (a-1)/b + 1
}

// CanvasSize returns the padded canvas size for a footprint
func CanvasSize(f Footprint, unit int, l Layout) (image.Point, error) {
	return f.ScaleWithin(unit, l.MaxPixels)
}

// CenterOffset returns the top-left position that centers src inside canvas.
// Odd leftovers are truncated, so the extra pixel ends up on the
// right/bottom margin.
func CenterOffset(canvas, src image.Point) image.Point {
	return image.Pt((canvas.X-src.X)/2, (canvas.Y-src.Y)/2)
}

// PreviewSize maps the longest side of the footprint to previewPixels and
// scales the other side by the same factor. Each axis is rounded on its own
// (half to even), which can leave the short side one pixel off the exact
// aspect ratio. Neither side is allowed to collapse below one pixel.
func PreviewSize(f Footprint, previewPixels int) image.Point {
	scale := float64(previewPixels) / float64(f.Longest())

	return image.Pt(
		atLeastOne(int(math.RoundToEven(float64(f.Width)*scale))),
		atLeastOne(int(math.RoundToEven(float64(f.Height)*scale))),
	)
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// OptimizeSize returns the size of the print optimized canvas
func OptimizeSize(f Footprint, target int, l Layout) (image.Point, error) {
	return f.ScaleWithin(target, l.MaxPixels)
}

// ImageSize returns the size of the final image
func ImageSize(f Footprint, l Layout) (image.Point, error) {
	return f.ScaleWithin(l.ImagePixels, l.MaxPixels)
}
