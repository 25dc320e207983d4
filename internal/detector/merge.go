package detector

import (
	"log/slog"
	"sort"

	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// MergeConfig controls duplicate merging for one class group.
type MergeConfig struct {
	// Threshold is the relative overlap above which two detections are
	// considered the same object.
	Threshold float64
	// ClassAware restricts merging to detections sharing a class.
	ClassAware bool
}

// NodeMerge merges overlapping symbol nodes regardless of class.
var NodeMerge = MergeConfig{Threshold: 0.1, ClassAware: false}

// TextMerge merges text fragments of the same class only; the threshold is
// tight so that adjacent labels stay apart.
var TextMerge = MergeConfig{Threshold: 0.01, ClassAware: true}

// Normalize drops malformed and low-confidence detections and merges the
// remaining duplicates. Dropped detections are logged, never returned as errors.
func Normalize(dets []Detection, minConfidence float64, cfg MergeConfig, logger *slog.Logger) []Detection {
	if logger == nil {
		logger = slog.Default()
	}
	valid := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			logger.Warn("dropping detection", "index", i, "class", d.Class, "error", err)
			continue
		}
		if d.Confidence < minConfidence {
			continue
		}
		valid = append(valid, d)
	}
	return MergeDetections(valid, cfg)
}

// MergeDetections collapses overlapping duplicates, keeping the most
// confident member of each group. Candidates are visited by descending
// confidence; a suppressed detection never suppresses others, so the
// surviving box represents its group for all later comparisons. The result
// keeps the input order.
func MergeDetections(dets []Detection, cfg MergeConfig) []Detection {
	if len(dets) <= 1 {
		return append([]Detection(nil), dets...)
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	boxes := make([]utils.Box, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box()
	}

	suppressed := make([]bool, len(dets))
	for pos, s := range order {
		if suppressed[s] {
			continue
		}
		for _, c := range order[pos+1:] {
			if suppressed[c] {
				continue
			}
			if cfg.ClassAware && dets[s].Class != dets[c].Class {
				continue
			}
			if duplicate(boxes[s], boxes[c], cfg.Threshold) {
				suppressed[c] = true
			}
		}
	}

	out := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if !suppressed[i] {
			out = append(out, d)
		}
	}
	return out
}

// duplicate reports whether either box covers more than threshold of the other.
func duplicate(a, b utils.Box, threshold float64) bool {
	return max(utils.RelativeOverlap(a, b), utils.RelativeOverlap(b, a)) > threshold
}
