package pipeline

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/samber/lo"
)

// Composite stacks crops vertically on a white background, top to bottom in
// the given order. The result is as wide as the widest crop and as tall as
// all crops together. It returns nil for an empty list.
func Composite(crops []image.Image) *image.NRGBA {
	crops = lo.Filter(crops, func(c image.Image, _ int) bool {
		return c != nil && !c.Bounds().Empty()
	})
	if len(crops) == 0 {
		return nil
	}

	width := lo.Max(lo.Map(crops, func(c image.Image, _ int) int { return c.Bounds().Dx() }))
	height := lo.SumBy(crops, func(c image.Image) int { return c.Bounds().Dy() })

	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, c := range crops {
		canvas = imaging.Paste(canvas, c, image.Pt(0, y))
		y += c.Bounds().Dy()
	}
	return canvas
}
