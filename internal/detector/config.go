package detector

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/pedigree/internal/onnx"
)

// Backend kinds.
const (
	KindONNX   = "onnx"
	KindLabels = "labels"
	KindRemote = "remote"
)

// Config selects and configures a detector backend.
type Config struct {
	Kind        string
	ModelPath   string
	LabelDir    string
	URL         string
	Classes     []string
	InputSize   int
	IoU         float64
	NumThreads  int
	LibraryPath string
	GPU         onnx.GPUConfig
	Timeout     time.Duration
}

// New builds the detector named name from cfg.
func New(name string, cfg Config) (Detector, error) {
	switch cfg.Kind {
	case KindONNX, "":
		return NewYOLODetector(YOLOConfig{
			Name:        name,
			ModelPath:   cfg.ModelPath,
			Classes:     cfg.Classes,
			InputSize:   cfg.InputSize,
			IoU:         cfg.IoU,
			NumThreads:  cfg.NumThreads,
			LibraryPath: cfg.LibraryPath,
			GPU:         cfg.GPU,
		})
	case KindLabels:
		return NewLabelFileDetector(name, cfg.LabelDir, cfg.Classes)
	case KindRemote:
		return NewRemoteDetector(name, cfg.URL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}
