package detector

import "sort"

// iou computes intersection over union of two center-based detections.
func iou(a, b Detection) float64 {
	ax1, ay1 := a.X-a.Width/2, a.Y-a.Height/2
	ax2, ay2 := a.X+a.Width/2, a.Y+a.Height/2
	bx1, by1 := b.X-b.Width/2, b.Y-b.Height/2
	bx2, by2 := b.X+b.Width/2, b.Y+b.Height/2

	w := min(ax2, bx2) - max(ax1, bx1)
	h := min(ay2, by2) - max(ay1, by1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NonMaxSuppression performs per-class hard NMS over raw model candidates.
// The output is sorted by confidence, highest first.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return append([]Detection(nil), dets...)
	}

	sorted := append([]Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[i].ClassID != sorted[j].ClassID {
				continue
			}
			if iou(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
