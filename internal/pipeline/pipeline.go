// Package pipeline turns symbol and text detections of a scanned pedigree
// diagram into a structured tree of family members with their labels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/recognizer"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// Input errors. Everything else degrades to warnings.
var (
	ErrImageLoad = errors.New("image could not be loaded")
	ErrDetection = errors.New("detection failed")
	ErrNoNodes   = errors.New("no pedigree symbols detected")
)

// Config holds configuration for the pipeline and its components.
type Config struct {
	Nodes          detector.Config
	Texts          detector.Config
	NodeConfidence float64
	TextConfidence float64
	NodeMerge      detector.MergeConfig
	TextMerge      detector.MergeConfig
	CropOrder      CropOrder
	Recognition    RecognitionConfig
	Vision         recognizer.VisionConfig

	// SaveResults writes detection overlays to ResultsDir/<image stem>/.
	// An empty ResultsDir means the directory of the source image.
	SaveResults bool
	ResultsDir  string
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		Nodes: detector.Config{
			Kind:      detector.KindONNX,
			ModelPath: "models/nodes.onnx",
			Classes:   detector.NodeClassNames,
			InputSize: 640,
			IoU:       0.7,
		},
		Texts: detector.Config{
			Kind:      detector.KindONNX,
			ModelPath: "models/text.onnx",
			Classes:   detector.TextClassNames,
			InputSize: 640,
			IoU:       0.7,
		},
		NodeConfidence: 0.5,
		TextConfidence: 0.5,
		NodeMerge:      detector.NodeMerge,
		TextMerge:      detector.TextMerge,
		CropOrder:      CropOrderDetection,
		Recognition:    DefaultRecognitionConfig(),
		Vision: recognizer.VisionConfig{
			Provider:  recognizer.ProviderOpenAI,
			ServerURL: "http://localhost:8000/v1",
			Model:     "Qwen/Qwen2.5-VL-7B-Instruct",
			MaxTokens: 64,
		},
	}
}

// Validate checks thresholds and options that cannot be defaulted.
func (c Config) Validate() error {
	if c.NodeConfidence < 0 || c.NodeConfidence > 1 {
		return fmt.Errorf("invalid node confidence %v: must be between 0.0 and 1.0", c.NodeConfidence)
	}
	if c.TextConfidence < 0 || c.TextConfidence > 1 {
		return fmt.Errorf("invalid text confidence %v: must be between 0.0 and 1.0", c.TextConfidence)
	}
	if c.NodeMerge.Threshold < 0 || c.NodeMerge.Threshold > 1 || c.TextMerge.Threshold < 0 || c.TextMerge.Threshold > 1 {
		return errors.New("merge thresholds must be between 0.0 and 1.0")
	}
	if _, err := ParseCropOrder(string(c.CropOrder)); err != nil {
		return err
	}
	if c.Recognition.MaxWorkers < 0 {
		return errors.New("recognition max workers must be >= 0")
	}
	if c.Recognition.Timeout < 0 {
		return errors.New("recognition timeout must be >= 0")
	}
	return nil
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg        Config
	nodes      detector.Detector
	texts      detector.Detector
	recognizer recognizer.Recognizer
	logger     *slog.Logger
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithNodeDetector injects a ready symbol detector instead of building one.
func (b *Builder) WithNodeDetector(d detector.Detector) *Builder {
	b.nodes = d
	return b
}

// WithTextDetector injects a ready text detector instead of building one.
func (b *Builder) WithTextDetector(d detector.Detector) *Builder {
	b.texts = d
	return b
}

// WithRecognizer injects the recognition backend.
func (b *Builder) WithRecognizer(r recognizer.Recognizer) *Builder {
	b.recognizer = r
	return b
}

// WithLogger sets the base logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithConfidence sets the minimum detection confidences (if within [0,1]).
func (b *Builder) WithConfidence(nodes, texts float64) *Builder {
	if nodes >= 0 && nodes <= 1 {
		b.cfg.NodeConfidence = nodes
	}
	if texts >= 0 && texts <= 1 {
		b.cfg.TextConfidence = texts
	}
	return b
}

// WithRecognitionWorkers sets the number of concurrent recognition calls.
func (b *Builder) WithRecognitionWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Recognition.MaxWorkers = n
	}
	return b
}

// WithRecognitionTimeout sets the per-call recognition deadline.
func (b *Builder) WithRecognitionTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.cfg.Recognition.Timeout = d
	}
	return b
}

// WithCropOrder sets how crops are ordered before compositing.
func (b *Builder) WithCropOrder(o CropOrder) *Builder {
	if o != "" {
		b.cfg.CropOrder = o
	}
	return b
}

// WithSaveResults toggles writing detection overlays.
func (b *Builder) WithSaveResults(enabled bool, dir string) *Builder {
	b.cfg.SaveResults = enabled
	b.cfg.ResultsDir = dir
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the components that were not
// injected.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{cfg: b.cfg, logger: logger, nodes: b.nodes, texts: b.texts, rec: b.recognizer}
	if p.nodes == nil {
		d, err := detector.New("nodes", b.cfg.Nodes)
		if err != nil {
			return nil, fmt.Errorf("failed to create node detector: %w", err)
		}
		p.nodes = d
	}
	if p.texts == nil {
		d, err := detector.New("text", b.cfg.Texts)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to create text detector: %w", err), p.nodes.Close())
		}
		p.texts = d
	}
	if p.rec == nil {
		r, err := recognizer.NewVisionRecognizer(b.cfg.Vision)
		if err != nil {
			return nil, multierr.Combine(fmt.Errorf("failed to create recognizer: %w", err), p.Close())
		}
		p.rec = r
	}

	logger.Info("Pipeline initialized",
		"node_detector", p.nodes.Name(),
		"text_detector", p.texts.Name(),
		"recognition_workers", b.cfg.Recognition.MaxWorkers,
		"recognition_timeout", b.cfg.Recognition.Timeout,
		"crop_order", b.cfg.CropOrder,
	)
	return p, nil
}

// Pipeline wires together the detectors and the recognizer. It is safe for
// concurrent use; every Process call owns its tree.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	nodes  detector.Detector
	texts  detector.Detector
	rec    recognizer.Recognizer
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Close releases the detectors, and the recognizer when it is an io.Closer.
func (p *Pipeline) Close() error {
	var err error
	if p.nodes != nil {
		err = multierr.Append(err, p.nodes.Close())
	}
	if p.texts != nil {
		err = multierr.Append(err, p.texts.Close())
	}
	if c, ok := p.rec.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

type processOptions struct {
	img      image.Image
	progress ProgressCallback
}

// ProcessOption customizes one Process call.
type ProcessOption func(*processOptions)

// WithImage supplies already decoded pixels so Process does not read path.
func WithImage(img image.Image) ProcessOption {
	return func(o *processOptions) { o.img = img }
}

// WithProgress reports per-node recognition progress.
func WithProgress(cb ProgressCallback) ProcessOption {
	return func(o *processOptions) { o.progress = cb }
}

// Process runs detection, association, recognition and assembly for one
// image. It fails only when the image cannot be loaded, a detector fails, or
// no symbol survives normalization; all later problems are reported as
// warnings on a complete result.
func (p *Pipeline) Process(ctx context.Context, imageID, path string, opts ...ProcessOption) (*Result, error) {
	var o processOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := p.logger.With("image_id", imageID)
	start := time.Now()
	res := &Result{}

	img := o.img
	if img == nil {
		loaded, _, err := utils.LoadImage(path)
		if err != nil {
			pipelineRunsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%w: %w", ErrImageLoad, err)
		}
		img = loaded
	}
	logger.Info("Performing detection", "path", path,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	detStart := time.Now()
	rawNodes, rawTexts, err := p.detect(ctx, path, img)
	if err != nil {
		pipelineRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	detector.LogClassCounts(logger, p.nodes.Name(), rawNodes)
	detector.LogClassCounts(logger, p.texts.Name(), rawTexts)

	res.Warnings = append(res.Warnings, malformedWarnings(rawNodes, "node")...)
	res.Warnings = append(res.Warnings, malformedWarnings(rawTexts, "text")...)
	nodes := detector.Normalize(rawNodes, p.cfg.NodeConfidence, p.cfg.NodeMerge, logger)
	texts := detector.Normalize(rawTexts, p.cfg.TextConfidence, p.cfg.TextMerge, logger)
	res.Timing.DetectionNs = time.Since(detStart).Nanoseconds()
	stageDuration.WithLabelValues("detection").Observe(time.Since(detStart).Seconds())
	detectionsTotal.WithLabelValues("nodes").Observe(float64(len(nodes)))
	detectionsTotal.WithLabelValues("texts").Observe(float64(len(texts)))

	if p.cfg.SaveResults {
		if err := SaveOverlays(img, path, p.cfg.ResultsDir, nodes, texts); err != nil {
			logger.Warn("Failed to save detection overlays", "error", err)
			res.Warnings = append(res.Warnings, newWarning(-1, StageOverlay, err))
		}
	}

	if len(nodes) == 0 {
		pipelineRunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w in %s", ErrNoNodes, path)
	}

	tree := NewTree(imageID, path, img.Bounds(), nodes, texts)
	res.Tree = tree

	assocStart := time.Now()
	assoc := Associate(img, nodes, texts, p.cfg.CropOrder, logger)
	for i, ni := range assoc.Assigned {
		tree.Texts[i].NodeIndex = ni
	}
	res.Warnings = append(res.Warnings, assoc.Warnings...)
	res.Timing.AssociationNs = time.Since(assocStart).Nanoseconds()
	stageDuration.WithLabelValues("association").Observe(time.Since(assocStart).Seconds())

	recStart := time.Now()
	orch := NewOrchestrator(p.rec, p.cfg.Recognition, logger).WithProgress(o.progress)
	results := orch.Run(ctx, assoc.Entries)
	res.Timing.RecognitionNs = time.Since(recStart).Nanoseconds()
	stageDuration.WithLabelValues("recognition").Observe(time.Since(recStart).Seconds())

	asmStart := time.Now()
	res.Warnings = append(res.Warnings, Assemble(tree, results, logger)...)
	res.Timing.AssemblyNs = time.Since(asmStart).Nanoseconds()
	stageDuration.WithLabelValues("assembly").Observe(time.Since(asmStart).Seconds())

	res.Timing.TotalNs = time.Since(start).Nanoseconds()
	status := "ok"
	if len(res.Warnings) > 0 {
		status = "degraded"
	}
	pipelineRunsTotal.WithLabelValues(status).Inc()
	logger.Info("Pedigree tree assembled",
		"nodes", len(tree.Nodes),
		"texts", len(tree.Texts),
		"labelled_nodes", len(assoc.Entries),
		"warnings", len(res.Warnings),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// detect runs both detectors concurrently.
func (p *Pipeline) detect(ctx context.Context, path string, img image.Image) ([]detector.Detection, []detector.Detection, error) {
	var nodes, texts []detector.Detection
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = detector.Run(gctx, p.nodes, path, img, p.cfg.NodeConfidence)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDetection, p.nodes.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		texts, err = detector.Run(gctx, p.texts, path, img, p.cfg.TextConfidence)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDetection, p.texts.Name(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return nodes, texts, nil
}

func malformedWarnings(dets []detector.Detection, kind string) []NodeWarning {
	var out []NodeWarning
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			out = append(out, newWarning(-1, StageNormalize, fmt.Errorf("%s detection %d dropped: %w", kind, i, err)))
		}
	}
	return out
}
