package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x, y, w, h, conf float64, class string) Detection {
	return Detection{X: x, Y: y, Width: w, Height: h, Confidence: conf, Class: class}
}

func TestMergeDetections_KeepsHigherConfidence(t *testing.T) {
	dets := []Detection{
		det(50, 50, 20, 20, 0.6, ClassMale),
		det(55, 55, 20, 20, 0.9, ClassFemale),
	}
	out := MergeDetections(dets, NodeMerge)
	require.Len(t, out, 1)
	assert.Equal(t, ClassFemale, out[0].Class, "class-agnostic merge keeps the most confident box")
}

func TestMergeDetections_ClassAwareKeepsDifferentClasses(t *testing.T) {
	dets := []Detection{
		det(50, 50, 20, 20, 0.6, "Text"),
		det(50, 50, 20, 20, 0.9, "Generation"),
	}
	out := MergeDetections(dets, TextMerge)
	assert.Len(t, out, 2)

	dets[1].Class = "Text"
	out = MergeDetections(dets, TextMerge)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-12)
}

func TestMergeDetections_TransitiveChainUsesSurvivor(t *testing.T) {
	a := det(10, 10, 20, 20, 0.9, ClassMale)
	b := det(25, 10, 20, 20, 0.8, ClassMale)
	c := det(40, 10, 20, 20, 0.7, ClassMale)

	out := MergeDetections([]Detection{c, b, a}, NodeMerge)
	require.Len(t, out, 2)
	// b is absorbed by a; c only touched b and therefore survives.
	assert.Equal(t, c, out[0])
	assert.Equal(t, a, out[1])
}

func TestMergeDetections_PreservesInputOrder(t *testing.T) {
	dets := []Detection{
		det(10, 10, 10, 10, 0.3, ClassMale),
		det(100, 10, 10, 10, 0.9, ClassFemale),
		det(200, 10, 10, 10, 0.5, ClassUnknown),
	}
	assert.Equal(t, dets, MergeDetections(dets, NodeMerge))
}

func TestMergeDetections_Empty(t *testing.T) {
	assert.Empty(t, MergeDetections(nil, NodeMerge))
	assert.Empty(t, Normalize([]Detection{}, 0.5, TextMerge, nil))
}

func TestMergeDetections_SmallBoxInsideLargeBox(t *testing.T) {
	// Relative overlap of the large box over the small one is tiny, but the
	// small one is fully covered, so the pair is a duplicate.
	dets := []Detection{
		det(100, 100, 200, 200, 0.9, ClassMale),
		det(100, 100, 10, 10, 0.95, ClassMale),
	}
	out := MergeDetections(dets, NodeMerge)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.95, out[0].Confidence, 1e-12)
}

func TestNormalize_DropsMalformedAndLowConfidence(t *testing.T) {
	dets := []Detection{
		det(10, 10, -5, 10, 0.9, ClassMale),
		det(10, 10, 5, math.NaN(), 0.9, ClassMale),
		det(10, 10, 5, 5, 0.2, ClassMale),
		det(100, 100, 5, 5, 0.8, ClassFemale),
	}
	out := Normalize(dets, 0.5, NodeMerge, nil)
	require.Len(t, out, 1)
	assert.Equal(t, ClassFemale, out[0].Class)
}

func TestDetectionValidate(t *testing.T) {
	require.NoError(t, det(1, 1, 0, 0, 0.5, "x").Validate())
	require.ErrorIs(t, det(1, 1, -1, 0, 0.5, "x").Validate(), ErrMalformed)
	require.ErrorIs(t, det(math.Inf(1), 1, 1, 1, 0.5, "x").Validate(), ErrMalformed)
}

func TestClassCounts(t *testing.T) {
	counts := ClassCounts([]Detection{
		det(0, 0, 1, 1, 1, ClassMale),
		det(0, 0, 1, 1, 1, ClassMale),
		det(0, 0, 1, 1, 1, ClassFemale),
	})
	assert.Equal(t, map[string]int{ClassMale: 2, ClassFemale: 1}, counts)
}

func TestClassName(t *testing.T) {
	assert.Equal(t, ClassMiscarriage, className(NodeClassNames, 2))
	assert.Equal(t, "class_9", className(NodeClassNames, 9))
}
