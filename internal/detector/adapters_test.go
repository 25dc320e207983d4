package detector

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabels(t *testing.T) {
	input := "0 0.5 0.25 0.1 0.2\n\n1 0.1 0.1 0.05 0.05 0.3\n3 0.9 0.9 0.1 0.1 0.95\n"
	dets, err := ParseLabels(strings.NewReader(input), 200, 100, 0.5, NodeClassNames)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, Detection{X: 100, Y: 25, Width: 20, Height: 20, Confidence: 1, Class: ClassFemale, ClassID: 0}, dets[0])
	assert.Equal(t, ClassUnknown, dets[1].Class)
	assert.InDelta(t, 0.95, dets[1].Confidence, 1e-12)
}

func TestParseLabels_Malformed(t *testing.T) {
	_, err := ParseLabels(strings.NewReader("0 0.5 0.5\n"), 10, 10, 0, nil)
	require.Error(t, err)
	_, err = ParseLabels(strings.NewReader("0 a 0.5 0.1 0.1\n"), 10, 10, 0, nil)
	require.Error(t, err)
}

func TestLabelFileDetector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "family.txt"), []byte("1 0.5 0.5 0.2 0.2\n"), 0o600))

	d, err := NewLabelFileDetector("nodes", dir, NodeClassNames)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	dets, err := Run(context.Background(), d, "/uploads/family.png", img, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, ClassMale, dets[0].Class)
	assert.InDelta(t, 50, dets[0].X, 1e-9)
	assert.InDelta(t, 10, dets[0].Height, 1e-9)

	// Images without labels yield no detections.
	dets, err = d.DetectFile(context.Background(), "/uploads/other.png", img, 0.5)
	require.NoError(t, err)
	assert.Empty(t, dets)

	_, err = d.Detect(context.Background(), img, 0.5)
	require.Error(t, err)

	_, err = NewLabelFileDetector("nodes", filepath.Join(dir, "missing"), nil)
	require.Error(t, err)
}

func TestRemoteDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		assert.Equal(t, "0.4", r.FormValue("confidence"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []Detection{
				{X: 10, Y: 10, Width: 4, Height: 4, Confidence: 0.9, Class: "Text"},
				{X: 20, Y: 20, Width: 4, Height: 4, Confidence: 0.1, Class: "Text"},
			},
		})
	}))
	defer srv.Close()

	d, err := NewRemoteDetector("text", srv.URL, time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	dets, err := d.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 0.4)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Text", dets[0].Class)
	assert.Equal(t, "text", d.Name())
}

func TestRemoteDetector_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewRemoteDetector("nodes", srv.URL, time.Second)
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = NewRemoteDetector("nodes", "", 0)
	require.Error(t, err)
}
