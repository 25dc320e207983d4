package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LabelFileDetector serves detections from YOLO-format label files stored
// under Dir as <image stem>.txt. Each line is
// "class_id cx cy w h [confidence]" with coordinates normalized to [0,1].
// It is used for offline evaluation against annotated diagrams.
type LabelFileDetector struct {
	name    string
	dir     string
	classes []string
}

// NewLabelFileDetector returns a detector reading labels from dir.
func NewLabelFileDetector(name, dir string, classes []string) (*LabelFileDetector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("label directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("label directory: %s is not a directory", dir)
	}
	return &LabelFileDetector{name: name, dir: dir, classes: classes}, nil
}

// Name returns the model family name.
func (d *LabelFileDetector) Name() string { return d.name }

// Close is a no-op.
func (d *LabelFileDetector) Close() error { return nil }

// Detect always fails: label lookup needs the source path.
func (d *LabelFileDetector) Detect(context.Context, image.Image, float64) ([]Detection, error) {
	return nil, errors.New("label file detector requires the source image path")
}

// DetectFile reads the label file matching path and denormalizes it against
// the image size.
func (d *LabelFileDetector) DetectFile(ctx context.Context, path string, img image.Image,
	confidence float64,
) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	labelPath := filepath.Join(d.dir, stem+".txt")

	f, err := os.Open(labelPath) //nolint:gosec // G304: label path derived from the configured directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer func() { _ = f.Close() }()

	b := img.Bounds()
	return ParseLabels(f, b.Dx(), b.Dy(), confidence, d.classes)
}

// ParseLabels decodes YOLO label lines. Detections without an explicit
// confidence column get confidence 1.
func ParseLabels(r io.Reader, width, height int, confidence float64, classes []string) ([]Detection, error) {
	var out []Detection
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 && len(fields) != 6 {
			return nil, fmt.Errorf("labels line %d: expected 5 or 6 fields, got %d", line, len(fields))
		}
		vals := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("labels line %d: %w", line, err)
			}
			vals[i] = v
		}
		conf := 1.0
		if len(vals) == 6 {
			conf = vals[5]
		}
		if conf < confidence {
			continue
		}
		id := int(vals[0])
		out = append(out, Detection{
			X:          vals[1] * float64(width),
			Y:          vals[2] * float64(height),
			Width:      vals[3] * float64(width),
			Height:     vals[4] * float64(height),
			Confidence: conf,
			Class:      className(classes, id),
			ClassID:    id,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return out, nil
}
