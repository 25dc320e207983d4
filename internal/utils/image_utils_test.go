package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxFromCenter_Truncates(t *testing.T) {
	tests := []struct {
		name         string
		cx, cy, w, h float64
		expected     Box
	}{
		{"integral", 50, 50, 20, 10, Box{X1: 40, Y1: 45, X2: 60, Y2: 55}},
		{"fractional", 10.7, 10.2, 5, 3, Box{X1: 8, Y1: 8, X2: 13, Y2: 11}},
		{"negative corner truncates toward zero", 1, 1, 5, 5, Box{X1: -1, Y1: -1, X2: 3, Y2: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BoxFromCenter(tt.cx, tt.cy, tt.w, tt.h))
		})
	}
}

func TestIntersectionArea(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.Equal(t, 25, IntersectionArea(a, Box{X1: 5, Y1: 5, X2: 15, Y2: 15}))
	assert.Equal(t, 0, IntersectionArea(a, Box{X1: 10, Y1: 0, X2: 20, Y2: 10}), "touching edges")
	assert.Equal(t, 0, IntersectionArea(a, Box{X1: 30, Y1: 30, X2: 40, Y2: 40}))
	assert.Equal(t, 100, IntersectionArea(a, a))
}

func TestRelativeOverlap(t *testing.T) {
	outer := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	inner := Box{X1: 10, Y1: 10, X2: 20, Y2: 20}

	// inner is fully covered by outer, but covers only a sliver of outer.
	assert.InDelta(t, 100.0/121.0, RelativeOverlap(outer, inner), 1e-9)
	assert.InDelta(t, 100.0/(101.0*101.0), RelativeOverlap(inner, outer), 1e-9)
	assert.Zero(t, RelativeOverlap(outer, Box{X1: 200, Y1: 200, X2: 210, Y2: 210}))
}

func TestRelativeOverlap_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genBox := gopter.CombineGens(
		gen.IntRange(-200, 200),
		gen.IntRange(-200, 200),
		gen.IntRange(0, 150),
		gen.IntRange(0, 150),
	).Map(func(v []interface{}) Box {
		x, y := v[0].(int), v[1].(int)
		return Box{X1: x, Y1: y, X2: x + v[2].(int), Y2: y + v[3].(int)}
	})

	properties.Property("relative overlap stays in [0,1]", prop.ForAll(
		func(a, b Box) bool {
			r := RelativeOverlap(a, b)
			return r >= 0 && r <= 1
		},
		genBox, genBox,
	))

	properties.Property("disjoint boxes have zero overlap", prop.ForAll(
		func(a Box, gap int) bool {
			b := Box{X1: a.X2 + gap, Y1: a.Y1, X2: a.X2 + gap + 10, Y2: a.Y2}
			return RelativeOverlap(a, b) == 0 && RelativeOverlap(b, a) == 0
		},
		genBox, gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestToRect_Clamps(t *testing.T) {
	bounds := image.Rect(0, 0, 50, 40)
	r := Box{X1: -10, Y1: -5, X2: 60, Y2: 45}.ToRect(bounds)
	assert.Equal(t, image.Rect(0, 0, 50, 40), r)

	r = Box{X1: 70, Y1: 70, X2: 90, Y2: 90}.ToRect(bounds)
	assert.True(t, r.Empty())
}

func TestCropImageBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	img.Set(5, 5, color.RGBA{R: 255, A: 255})

	crop := CropImageBox(img, Box{X1: 5, Y1: 5, X2: 15, Y2: 10})
	require.Equal(t, 10, crop.Bounds().Dx())
	require.Equal(t, 5, crop.Bounds().Dy())
	r, _, _, _ := crop.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	outside := CropImageBox(img, Box{X1: 100, Y1: 100, X2: 120, Y2: 120})
	assert.True(t, outside.Bounds().Empty())

	partial := CropImageBox(img, Box{X1: 25, Y1: -5, X2: 40, Y2: 5})
	assert.Equal(t, image.Rect(0, 0, 5, 5), partial.Bounds())
}

func TestDistanceAndCenter(t *testing.T) {
	c := Box{X1: 0, Y1: 0, X2: 10, Y2: 4}.Center()
	assert.Equal(t, Point{X: 5, Y: 2}, c)
	assert.InDelta(t, 5.0, Distance(Point{}, Point{X: 3, Y: 4}), 1e-12)
}

func TestDrawRectAndLine(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	red := color.RGBA{R: 255, A: 255}
	DrawRect(dst, image.Rect(2, 2, 10, 10), red, 1)
	assert.Equal(t, red, dst.RGBAAt(2, 2))
	assert.Equal(t, red, dst.RGBAAt(9, 9))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(5, 5))

	DrawLine(dst, Point{X: 0, Y: 19}, Point{X: 19, Y: 19}, red, 1)
	assert.Equal(t, red, dst.RGBAAt(12, 19))

	// Out of range drawing is a no-op.
	DrawRect(dst, image.Rect(50, 50, 60, 60), red, 2)
}
