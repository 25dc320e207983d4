package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// Node classes produced by the symbol model.
const (
	ClassFemale      = "Female"
	ClassMale        = "Male"
	ClassMiscarriage = "Miscarriage"
	ClassUnknown     = "Unknown"
)

// NodeClassNames is the class vocabulary of the symbol model, indexed by class id.
var NodeClassNames = []string{ClassFemale, ClassMale, ClassMiscarriage, ClassUnknown}

// TextClassNames is the class vocabulary of the text model.
var TextClassNames = []string{"Text"}

// Detection is a center-based box reported by a detector.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
}

// Box returns the integer corner box of the detection.
func (d Detection) Box() utils.Box {
	return utils.BoxFromCenter(d.X, d.Y, d.Width, d.Height)
}

// ErrMalformed is returned by Validate for detections that cannot be placed.
var ErrMalformed = errors.New("malformed detection")

// Validate rejects detections with negative or non-finite geometry.
func (d Detection) Validate() error {
	for _, v := range []float64{d.X, d.Y, d.Width, d.Height, d.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrMalformed)
		}
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("%w: negative size %.1fx%.1f", ErrMalformed, d.Width, d.Height)
	}
	return nil
}

// Detector finds objects of one model family in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, confidence float64) ([]Detection, error)
	Name() string
	Close() error
}

// FileDetector is implemented by detectors whose output depends on the
// source file rather than on pixels, such as stored label files.
type FileDetector interface {
	DetectFile(ctx context.Context, path string, img image.Image, confidence float64) ([]Detection, error)
}

// Run calls DetectFile when the detector supports it and Detect otherwise.
func Run(ctx context.Context, d Detector, path string, img image.Image, confidence float64) ([]Detection, error) {
	if fd, ok := d.(FileDetector); ok && path != "" {
		return fd.DetectFile(ctx, path, img, confidence)
	}
	return d.Detect(ctx, img, confidence)
}

// ClassCounts tallies detections per class name.
func ClassCounts(dets []Detection) map[string]int {
	counts := make(map[string]int)
	for _, d := range dets {
		counts[d.Class]++
	}
	return counts
}

// LogClassCounts emits the per-class tally for one model run.
func LogClassCounts(logger *slog.Logger, model string, dets []Detection) {
	counts := ClassCounts(dets)
	attrs := make([]any, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		attrs = append(attrs, slog.Int(k, counts[k]))
	}
	logger.Info("Detection results",
		"model", model,
		"total", len(dets),
		slog.Group("classes", attrs...))
}

// className resolves a class id against a vocabulary, falling back to the
// numeric id.
func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}
