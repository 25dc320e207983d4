package utils

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Point represents a 2D coordinate in float space.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Box is an axis-aligned bounding box in integer pixel coordinates,
// stored as top-left (X1, Y1) and bottom-right (X2, Y2) corners.
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// NewBox constructs a Box from corner coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 int) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// BoxFromCenter converts a center-based box into corner form. Coordinates are
// truncated toward zero.
func BoxFromCenter(cx, cy, width, height float64) Box {
	return Box{
		X1: int(cx - width/2),
		Y1: int(cy - height/2),
		X2: int(cx + width/2),
		Y2: int(cy + height/2),
	}
}

// Width returns the box width.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the box height.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box has no positive area.
func (b Box) Empty() bool { return b.X2 <= b.X1 || b.Y2 <= b.Y1 }

// PixelArea is the inclusive pixel area (x2-x1+1)*(y2-y1+1). It is never
// smaller than the intersection area of b with any other box, which keeps
// RelativeOverlap within [0, 1].
func (b Box) PixelArea() int {
	return (b.X2 - b.X1 + 1) * (b.Y2 - b.Y1 + 1)
}

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{X: float64(b.X1+b.X2) / 2, Y: float64(b.Y1+b.Y2) / 2}
}

// Slice returns the box as [x1, y1, x2, y2].
func (b Box) Slice() []int { return []int{b.X1, b.Y1, b.X2, b.Y2} }

// IntersectionArea computes the overlapping area between two boxes.
func IntersectionArea(a, b Box) int {
	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// RelativeOverlap returns the share of b covered by a: intersection area over
// the pixel area of b.
func RelativeOverlap(a, b Box) float64 {
	area := b.PixelArea()
	if area <= 0 {
		return 0
	}
	return float64(IntersectionArea(a, b)) / float64(area)
}

// ToRect converts a Box to an image.Rectangle, clamped to image bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(b.X1+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	y1 := clampInt(b.Y1+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(b.X2+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	y2 := clampInt(b.Y2+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CropImageRect crops an image to the given rectangle. The rectangle is
// intersected with the image bounds first; an empty intersection yields an
// empty image rather than a panic.
func CropImageRect(img image.Image, rect image.Rectangle) *image.NRGBA {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// CropImageBox crops an image using a Box given in image-relative pixels.
func CropImageBox(img image.Image, box Box) *image.NRGBA {
	return CropImageRect(img, box.ToRect(img.Bounds()))
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// DrawLine draws a line between two points using a simple Bresenham variant.
func DrawLine(dst *image.RGBA, a, b Point, col color.Color, thickness int) {
	x0, y0 := int(math.Round(a.X)), int(math.Round(a.Y))
	x1, y1 := int(math.Round(b.X)), int(math.Round(b.Y))
	dx := absInt(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -absInt(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		drawThickPoint(dst, x0, y0, col, thickness)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawThickPoint(dst *image.RGBA, x, y int, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r := (thickness - 1) / 2
	for yy := y - r; yy <= y+r; yy++ {
		for xx := x - r; xx <= x+r; xx++ {
			if image.Pt(xx, yy).In(dst.Bounds()) {
				dst.Set(xx, yy, col)
			}
		}
	}
}
