package pipeline

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/multierr"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

var (
	textColor = colorful.Hsv(210, 0.2, 0.45)
	linkColor = colorful.Hsv(0, 0, 0.6)
)

// ClassColor returns a stable color for a class name: classes found in
// names are spread evenly around the hue circle, anything else is gray.
func ClassColor(class string, names []string) color.Color {
	for i, n := range names {
		if n == class {
			return colorful.Hsv(360*float64(i)/float64(len(names)), 0.85, 0.9)
		}
	}
	return colorful.Hsv(0, 0, 0.5)
}

func cloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// RenderDetections draws detection boxes over a copy of img, colored by class.
func RenderDetections(img image.Image, dets []detector.Detection, names []string) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := cloneRGBA(img)
	for _, d := range dets {
		utils.DrawRect(dst, d.Box().ToRect(dst.Bounds()), ClassColor(d.Class, names), 2)
	}
	return dst
}

// RenderTree draws the nodes, their text boxes, and a line from every text
// box to the node it was assigned to.
func RenderTree(img image.Image, tree *PedigreeTree) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := cloneRGBA(img)
	if tree == nil {
		return dst
	}
	for _, t := range tree.Texts {
		box := t.Detection.Box()
		utils.DrawRect(dst, box.ToRect(dst.Bounds()), textColor, 1)
		if t.NodeIndex >= 0 && t.NodeIndex < len(tree.Nodes) {
			utils.DrawLine(dst, box.Center(), tree.Nodes[t.NodeIndex].Detection.Box().Center(), linkColor, 1)
		}
	}
	for _, n := range tree.Nodes {
		utils.DrawRect(dst, n.Detection.Box().ToRect(dst.Bounds()), ClassColor(n.Class, detector.NodeClassNames), 2)
	}
	return dst
}

// OverlayDir returns the directory overlays for path are written to.
func OverlayDir(path, dir string) string {
	if dir == "" {
		dir = filepath.Dir(path)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" || stem == "." {
		stem = "image"
	}
	return filepath.Join(dir, stem)
}

// SaveOverlays writes nodes.png and text.png for one image.
func SaveOverlays(img image.Image, path, dir string, nodes, texts []detector.Detection) error {
	out := OverlayDir(path, dir)
	return multierr.Combine(
		utils.SavePNG(filepath.Join(out, "nodes.png"), RenderDetections(img, nodes, detector.NodeClassNames)),
		utils.SavePNG(filepath.Join(out, "text.png"), RenderDetections(img, texts, detector.TextClassNames)),
	)
}
