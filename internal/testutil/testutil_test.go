package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
	assert.True(t, DirExists(filepath.Join(root, "internal")))
	assert.Contains(t, GetFeaturesDir(t), filepath.Join("testdata", "features"))
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists("/non/existent/file"))
}

func TestSampleDiagram(t *testing.T) {
	d := SampleDiagram()
	img := d.Render()
	assert.Equal(t, d.Width, img.Bounds().Dx())

	nodes := d.NodeDetections()
	require.Len(t, nodes, 3)
	assert.Equal(t, utils.NewBox(80, 60, 120, 100), nodes[0].Box())
	assert.Equal(t, detector.ClassFemale, nodes[1].Class)
	assert.Equal(t, 0, nodes[1].ClassID)

	texts := d.TextDetections()
	require.Len(t, texts, 2)
	for _, tx := range texts {
		assert.False(t, tx.Box().Empty())
	}
}

func TestWriteDiagramFixture(t *testing.T) {
	d := SampleDiagram()
	fx := WriteDiagramFixture(t, d, t.TempDir(), "family")

	assert.True(t, FileExists(fx.ImagePath))
	f, err := os.Open(filepath.Join(fx.NodeDir, "family.txt"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	dets, err := detector.ParseLabels(f, d.Width, d.Height, 0, detector.NodeClassNames)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.InDelta(t, 100, dets[0].X, 0.01)
	assert.InDelta(t, 40, dets[0].Width, 0.01)
	assert.Equal(t, detector.ClassMale, dets[0].Class)
}

func TestStubRecognizer(t *testing.T) {
	r := &StubRecognizer{}
	out, err := r.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, 1, r.MaxInFlight())
}

func TestStubDetector(t *testing.T) {
	d := &StubDetector{Detections: []detector.Detection{{Confidence: 0.9}, {Confidence: 0.2}}}
	out, err := d.Detect(context.Background(), nil, 0.5)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "stub", d.Name())
	require.NoError(t, d.Close())
	assert.True(t, d.Closed())
}
