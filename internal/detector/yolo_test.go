package detector

import (
	"testing"

	"github.com/MeKo-Tech/pedigree/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelsFirst builds a [1, 4+nc, N] tensor from per-anchor rows.
func channelsFirst(rows [][]float32) ([]float32, []int64) {
	n := len(rows)
	c := len(rows[0])
	data := make([]float32, c*n)
	for a, row := range rows {
		for ch, v := range row {
			data[ch*n+a] = v
		}
	}
	return data, []int64{1, int64(c), int64(n)}
}

func TestDecodeYOLO_ChannelsFirst(t *testing.T) {
	anchors := [][]float32{
		{100, 100, 20, 40, 0.9, 0.1},
		{200, 200, 10, 10, 0.1, 0.2},
		{300, 300, 30, 30, 0.2, 0.7},
	}
	// Pad to more anchors than channels so the layout is unambiguous.
	for len(anchors) < 8 {
		anchors = append(anchors, []float32{0, 0, 0, 0, 0, 0})
	}
	data, shape := channelsFirst(anchors)

	info := utils.LetterboxInfo{Scale: 0.5, PadX: 0, PadY: 20}
	dets, err := DecodeYOLO(data, shape, 0.5, []string{"Female", "Male"}, info)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "Female", dets[0].Class)
	assert.InDelta(t, 200, dets[0].X, 1e-9)
	assert.InDelta(t, 160, dets[0].Y, 1e-9)
	assert.InDelta(t, 40, dets[0].Width, 1e-9)
	assert.InDelta(t, 80, dets[0].Height, 1e-9)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)

	assert.Equal(t, "Male", dets[1].Class)
	assert.Equal(t, 1, dets[1].ClassID)
}

func TestDecodeYOLO_Transposed(t *testing.T) {
	// [1, N, 4+nc] with N < channels is rare, so use N=8 rows of 6 channels.
	data := make([]float32, 8*6)
	copy(data[0:6], []float32{50, 60, 10, 12, 0.8, 0.1})
	dets, err := DecodeYOLO(data, []int64{1, 8, 6}, 0.5, nil, utils.LetterboxInfo{})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 50, dets[0].X, 1e-9)
	assert.Equal(t, "class_0", dets[0].Class)
}

func TestDecodeYOLO_BadShape(t *testing.T) {
	_, err := DecodeYOLO(make([]float32, 10), []int64{1, 2, 5}, 0.5, nil, utils.LetterboxInfo{})
	require.Error(t, err)
	_, err = DecodeYOLO(make([]float32, 10), []int64{1, 5, 5}, 0.5, nil, utils.LetterboxInfo{})
	require.Error(t, err)
	_, err = DecodeYOLO(nil, []int64{2, 2}, 0.5, nil, utils.LetterboxInfo{})
	require.Error(t, err)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		{X: 10, Y: 10, Width: 10, Height: 10, Confidence: 0.7, ClassID: 0},
		{X: 11, Y: 11, Width: 10, Height: 10, Confidence: 0.9, ClassID: 0},
		{X: 11, Y: 11, Width: 10, Height: 10, Confidence: 0.8, ClassID: 1},
		{X: 100, Y: 100, Width: 10, Height: 10, Confidence: 0.6, ClassID: 0},
	}
	kept := NonMaxSuppression(dets, 0.5)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-12)
	for i := 1; i < len(kept); i++ {
		assert.GreaterOrEqual(t, kept[i-1].Confidence, kept[i].Confidence)
	}
}

func TestIoU(t *testing.T) {
	a := Detection{X: 5, Y: 5, Width: 10, Height: 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-12)
	assert.Zero(t, iou(a, Detection{X: 50, Y: 50, Width: 10, Height: 10}))
	assert.Zero(t, iou(Detection{}, Detection{}))
}

func TestNewYOLODetector_RequiresModel(t *testing.T) {
	_, err := NewYOLODetector(YOLOConfig{Name: "nodes"})
	require.Error(t, err)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("nodes", Config{Kind: "carrier-pigeon"})
	require.Error(t, err)
}
