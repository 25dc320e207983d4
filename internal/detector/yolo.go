package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/pedigree/internal/mempool"
	"github.com/MeKo-Tech/pedigree/internal/onnx"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

const (
	defaultInputSize = 640
	defaultIoU       = 0.7
)

// YOLOConfig holds the settings for an ONNX YOLOv8 detector.
type YOLOConfig struct {
	Name        string
	ModelPath   string
	Classes     []string
	InputSize   int     // square model input, 0 reads it from the model
	IoU         float64 // NMS IoU threshold
	NumThreads  int
	LibraryPath string
	GPU         onnx.GPUConfig
}

// YOLODetector runs a YOLOv8 export through ONNX Runtime.
type YOLODetector struct {
	cfg     YOLOConfig
	session *onnx.Session
	size    int
	mu      sync.RWMutex
}

// NewYOLODetector loads the model and prepares a session.
func NewYOLODetector(cfg YOLOConfig) (*YOLODetector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if cfg.IoU <= 0 {
		cfg.IoU = defaultIoU
	}
	if err := onnx.Initialize(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}
	sess, err := onnx.NewSession(cfg.ModelPath, onnx.SessionConfig{NumThreads: cfg.NumThreads, GPU: cfg.GPU})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	size := cfg.InputSize
	if size <= 0 {
		size = sess.InputSize(defaultInputSize)
	}
	slog.Debug("YOLO detector initialized",
		"name", cfg.Name,
		"model_path", cfg.ModelPath,
		"input_size", size,
		"classes", len(cfg.Classes),
		"gpu_enabled", cfg.GPU.UseGPU)
	return &YOLODetector{cfg: cfg, session: sess, size: size}, nil
}

// Name returns the model family name.
func (d *YOLODetector) Name() string { return d.cfg.Name }

// Detect runs inference and returns detections in source image pixels.
func (d *YOLODetector) Detect(ctx context.Context, img image.Image, confidence float64) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxed, info, err := utils.Letterbox(img, d.size)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	data, w, h, err := utils.NormalizeImage(boxed)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	defer mempool.PutFloat32(data)
	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}

	d.mu.RLock()
	sess := d.session
	d.mu.RUnlock()
	if sess == nil {
		return nil, errors.New("detector is closed")
	}

	out, shape, err := sess.Run(tensor)
	if err != nil {
		return nil, err
	}
	cands, err := DecodeYOLO(out, shape, confidence, d.cfg.Classes, info)
	if err != nil {
		return nil, err
	}
	return NonMaxSuppression(cands, d.cfg.IoU), nil
}

// Close releases the session.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

// DecodeYOLO converts a YOLOv8 output tensor into detections. The tensor is
// [1, 4+nc, N] (channels first) or its transpose [1, N, 4+nc]; box rows are
// cx, cy, w, h in model input pixels and are mapped back through info.
func DecodeYOLO(data []float32, shape []int64, confidence float64, classes []string,
	info utils.LetterboxInfo,
) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	rows, cols := int(shape[1]), int(shape[2])
	if rows*cols != len(data) {
		return nil, fmt.Errorf("output length %d does not match shape %v", len(data), shape)
	}

	// Channel count is small next to the anchor count.
	channelsFirst := rows <= cols
	channels, anchors := rows, cols
	if !channelsFirst {
		channels, anchors = cols, rows
	}
	if channels < 5 {
		return nil, fmt.Errorf("output has %d channels, need at least 5", channels)
	}
	at := func(c, a int) float64 {
		if channelsFirst {
			return float64(data[c*anchors+a])
		}
		return float64(data[a*channels+c])
	}

	var out []Detection
	for a := range anchors {
		best, bestScore := -1, 0.0
		for c := 4; c < channels; c++ {
			if s := at(c, a); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < confidence {
			continue
		}
		cx, cy := info.ToSource(at(0, a), at(1, a))
		w, h := at(2, a), at(3, a)
		if info.Scale > 0 {
			w /= info.Scale
			h /= info.Scale
		}
		out = append(out, Detection{
			X:          cx,
			Y:          cy,
			Width:      w,
			Height:     h,
			Confidence: bestScore,
			Class:      className(classes, best),
			ClassID:    best,
		})
	}
	return out, nil
}
