package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// Symbol is one family-member symbol of a synthetic diagram.
type Symbol struct {
	Class  string
	CX, CY int
	Size   int
}

// Label is one text block of a synthetic diagram.
type Label struct {
	Lines  []string
	X, Y   int // top-left corner
	Height int // line height, defaults to the font height
}

// Diagram describes a synthetic pedigree image.
type Diagram struct {
	Width, Height int
	Symbols       []Symbol
	Labels        []Label
}

// SampleDiagram returns a three-person diagram: a couple and their child,
// with labels under the parents.
func SampleDiagram() Diagram {
	return Diagram{
		Width:  400,
		Height: 300,
		Symbols: []Symbol{
			{Class: detector.ClassMale, CX: 100, CY: 80, Size: 40},
			{Class: detector.ClassFemale, CX: 300, CY: 80, Size: 40},
			{Class: detector.ClassUnknown, CX: 200, CY: 220, Size: 40},
		},
		Labels: []Label{
			{Lines: []string{"John Doe", "45y"}, X: 70, Y: 110},
			{Lines: []string{"Mary Doe", "type 2 diabetes"}, X: 270, Y: 110},
		},
	}
}

var face font.Face = basicfont.Face7x13

func (l Label) lineHeight() int {
	if l.Height > 0 {
		return l.Height
	}
	return face.Metrics().Height.Ceil()
}

// Box returns the bounding box of the label text.
func (l Label) Box() utils.Box {
	w := 0
	for _, line := range l.Lines {
		w = max(w, font.MeasureString(face, line).Ceil())
	}
	return utils.NewBox(l.X, l.Y, l.X+w, l.Y+len(l.Lines)*l.lineHeight())
}

// Box returns the bounding box of the symbol.
func (s Symbol) Box() utils.Box {
	h := s.Size / 2
	return utils.NewBox(s.CX-h, s.CY-h, s.CX+h, s.CY+h)
}

// Render draws the diagram in black on white.
func (d Diagram) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	for _, s := range d.Symbols {
		b := s.Box()
		switch s.Class {
		case detector.ClassFemale:
			drawCircle(img, s.CX, s.CY, s.Size/2)
		case detector.ClassUnknown:
			c := utils.Point{X: float64(s.CX), Y: float64(s.CY)}
			h := float64(s.Size / 2)
			pts := []utils.Point{{X: c.X, Y: c.Y - h}, {X: c.X + h, Y: c.Y}, {X: c.X, Y: c.Y + h}, {X: c.X - h, Y: c.Y}}
			for i := range pts {
				utils.DrawLine(img, pts[i], pts[(i+1)%len(pts)], color.Black, 2)
			}
		default:
			utils.DrawRect(img, image.Rect(b.X1, b.Y1, b.X2, b.Y2), color.Black, 2)
		}
	}

	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for _, l := range d.Labels {
		for i, line := range l.Lines {
			drawer.Dot = fixed.P(l.X, l.Y+i*l.lineHeight()+ascent)
			drawer.DrawString(line)
		}
	}
	return img
}

func drawCircle(img *image.RGBA, cx, cy, r int) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			d := x*x + y*y
			if d <= r*r && d >= (r-2)*(r-2) {
				img.Set(cx+x, cy+y, color.Black)
			}
		}
	}
}

// NodeDetections returns a perfect detection per symbol.
func (d Diagram) NodeDetections() []detector.Detection {
	out := make([]detector.Detection, len(d.Symbols))
	for i, s := range d.Symbols {
		out[i] = BoxDetection(s.Box(), s.Class, 0.9)
	}
	return out
}

// TextDetections returns a perfect detection per label.
func (d Diagram) TextDetections() []detector.Detection {
	out := make([]detector.Detection, len(d.Labels))
	for i, l := range d.Labels {
		out[i] = BoxDetection(l.Box(), "Text", 0.8)
	}
	return out
}

// BoxDetection converts a corner box into a center-based detection.
func BoxDetection(b utils.Box, class string, conf float64) detector.Detection {
	c := b.Center()
	return detector.Detection{
		X: c.X, Y: c.Y,
		Width: float64(b.Width()), Height: float64(b.Height()),
		Confidence: conf,
		Class:      class,
		ClassID:    classID(class),
	}
}

func classID(class string) int {
	for i, n := range detector.NodeClassNames {
		if n == class {
			return i
		}
	}
	return 0
}

// CreateTestImage creates a uniform image.
func CreateTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// SaveImage writes img as PNG to path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, utils.SavePNG(path, img), "Failed to save image %s", path)
}

// WriteDiagram renders d into dir/name.png and returns the path.
func WriteDiagram(t *testing.T, d Diagram, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".png")
	SaveImage(t, d.Render(), path)
	return path
}
