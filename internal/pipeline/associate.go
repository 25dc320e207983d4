package pipeline

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// CropOrder controls the order of crops inside one association.
type CropOrder string

const (
	// CropOrderDetection keeps the merged text detection order.
	CropOrderDetection CropOrder = "detection"
	// CropOrderReading sorts crops top-to-bottom, then left-to-right.
	CropOrderReading CropOrder = "reading"
)

// ParseCropOrder validates a configured crop order. Empty means detection order.
func ParseCropOrder(s string) (CropOrder, error) {
	switch CropOrder(s) {
	case "", CropOrderDetection:
		return CropOrderDetection, nil
	case CropOrderReading:
		return CropOrderReading, nil
	default:
		return "", fmt.Errorf("unknown crop order %q (want detection or reading)", s)
	}
}

// NearestNode returns the index of the center closest to p, or -1 when
// centers is empty. Ties go to the smallest index.
func NearestNode(p utils.Point, centers []utils.Point) int {
	best, bestDist := -1, math.Inf(1)
	for i, c := range centers {
		if d := utils.Distance(p, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Association is the outcome of assigning text detections to nodes.
type Association struct {
	// Entries holds one element per node with at least one crop, ordered
	// by node index.
	Entries []TextAssociation
	// Assigned maps each text detection to its node, -1 when there are no
	// nodes.
	Assigned []int
	Warnings []NodeWarning
}

// Associate assigns every text detection to the node whose box center is
// nearest and cuts the matching crops from img.
func Associate(img image.Image, nodes, texts []detector.Detection, order CropOrder, logger *slog.Logger) Association {
	if logger == nil {
		logger = slog.Default()
	}
	out := Association{Assigned: make([]int, len(texts))}

	centers := make([]utils.Point, len(nodes))
	for i, n := range nodes {
		centers[i] = n.Box().Center()
	}

	byNode := make(map[int]*TextAssociation)
	for ti, t := range texts {
		box := t.Box()
		ni := NearestNode(box.Center(), centers)
		out.Assigned[ti] = ni
		if ni < 0 {
			continue
		}

		crop := utils.CropImageBox(img, box)
		if crop.Bounds().Empty() {
			logger.Warn("Skipping empty text crop", "text", ti, "node", ni, "box", box.Slice())
			out.Warnings = append(out.Warnings,
				newWarning(ni, StageAssociate, fmt.Errorf("text %d crop is empty after clamping", ti)))
			continue
		}

		a, ok := byNode[ni]
		if !ok {
			a = &TextAssociation{NodeIndex: ni}
			byNode[ni] = a
		}
		a.Crops = append(a.Crops, crop)
		a.Boxes = append(a.Boxes, box)
	}

	if len(nodes) == 0 && len(texts) > 0 {
		logger.Warn("Text detections without any node", "texts", len(texts))
		out.Warnings = append(out.Warnings,
			newWarning(-1, StageAssociate, fmt.Errorf("%d text detections left unassigned", len(texts))))
	}

	for ni := range nodes {
		a, ok := byNode[ni]
		if !ok {
			continue
		}
		if order == CropOrderReading {
			sortReading(a)
		}
		out.Entries = append(out.Entries, *a)
	}
	return out
}

// sortReading orders crops by top edge, then left edge.
func sortReading(a *TextAssociation) {
	idx := make([]int, len(a.Boxes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		bi, bj := a.Boxes[idx[i]], a.Boxes[idx[j]]
		if bi.Y1 != bj.Y1 {
			return bi.Y1 < bj.Y1
		}
		return bi.X1 < bj.X1
	})
	crops := make([]image.Image, len(idx))
	boxes := make([]utils.Box, len(idx))
	for k, i := range idx {
		crops[k] = a.Crops[i]
		boxes[k] = a.Boxes[i]
	}
	a.Crops, a.Boxes = crops, boxes
}
