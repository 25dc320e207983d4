package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/detector"
)

// DiagramFixture is a rendered diagram plus YOLO label files for both
// detectors, laid out as:
//
//	<root>/images/<name>.png
//	<root>/labels/nodes/<name>.txt
//	<root>/labels/text/<name>.txt
type DiagramFixture struct {
	Root      string
	ImagePath string
	NodeDir   string
	TextDir   string
}

// WriteDiagramFixture writes d and its perfect detections under root.
func WriteDiagramFixture(t *testing.T, d Diagram, root, name string) DiagramFixture {
	t.Helper()

	fx := DiagramFixture{
		Root:    root,
		NodeDir: filepath.Join(root, "labels", "nodes"),
		TextDir: filepath.Join(root, "labels", "text"),
	}
	fx.ImagePath = WriteDiagram(t, d, filepath.Join(root, "images"), name)
	WriteLabelFile(t, fx.NodeDir, name, d.NodeDetections(), d.Width, d.Height)
	WriteLabelFile(t, fx.TextDir, name, d.TextDetections(), d.Width, d.Height)
	return fx
}

// WriteLabelFile stores dets in YOLO format, normalized to width x height.
func WriteLabelFile(t *testing.T, dir, stem string, dets []detector.Detection, width, height int) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o750))
	var sb strings.Builder
	w, h := float64(width), float64(height)
	for _, d := range dets {
		_, _ = fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f %.4f\n",
			d.ClassID, d.X/w, d.Y/h, d.Width/w, d.Height/h, d.Confidence)
	}
	path := filepath.Join(dir, stem+".txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))
	return path
}
