package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/logging"
	"github.com/MeKo-Tech/pedigree/internal/onnx"
	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/recognizer"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	lc := logging.DefaultConfig()
	return Config{
		LogLevel: lc.Level,
		Verbose:  false,
		Logging: LoggingConfig{
			File:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		},
		Pipeline: PipelineConfig{
			Nodes:              fromDetectorConfig(pc.Nodes, pc.NodeConfidence),
			Text:               fromDetectorConfig(pc.Texts, pc.TextConfidence),
			NodeMergeThreshold: pc.NodeMerge.Threshold,
			TextMergeThreshold: pc.TextMerge.Threshold,
			CropOrder:          string(pc.CropOrder),
			Recognition:        pc.Recognition,
		},
		Vision: VisionConfig{
			Provider:  pc.Vision.Provider,
			ServerURL: pc.Vision.ServerURL,
			Model:     pc.Vision.Model,
			MaxTokens: pc.Vision.MaxTokens,
		},
		Output: OutputConfig{
			Format:      "json",
			SaveResults: false,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			SaveDir:         "uploads",
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		GPU: onnx.DefaultGPUConfig(),
	}
}

func fromDetectorConfig(c detector.Config, conf float64) DetectorConfig {
	return DetectorConfig{
		Kind:       c.Kind,
		ModelPath:  c.ModelPath,
		LabelDir:   c.LabelDir,
		URL:        c.URL,
		Confidence: conf,
		InputSize:  c.InputSize,
		IoU:        c.IoU,
		NumThreads: c.NumThreads,
		TimeoutSec: int(c.Timeout / time.Second),
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"json", "yaml", "text"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if err := validateDetector("pipeline.nodes", c.Pipeline.Nodes); err != nil {
		return err
	}
	if err := validateDetector("pipeline.text", c.Pipeline.Text); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.NodeMergeThreshold, "pipeline.node_merge_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.TextMergeThreshold, "pipeline.text_merge_threshold"); err != nil {
		return err
	}
	if _, err := pipeline.ParseCropOrder(c.Pipeline.CropOrder); err != nil {
		return err
	}
	if c.Pipeline.Recognition.MaxWorkers <= 0 {
		return fmt.Errorf("invalid recognition max workers: %d (must be positive)", c.Pipeline.Recognition.MaxWorkers)
	}
	if c.Pipeline.Recognition.Timeout <= 0 {
		return fmt.Errorf("invalid recognition timeout: %s (must be positive)", c.Pipeline.Recognition.Timeout)
	}

	validProviders := []string{recognizer.ProviderOpenAI, recognizer.ProviderOllama}
	if !slices.Contains(validProviders, strings.ToLower(c.Vision.Provider)) {
		return fmt.Errorf("invalid vision provider: %s (must be one of: %s)", c.Vision.Provider, strings.Join(validProviders, ", "))
	}
	if c.Vision.MaxTokens < 0 {
		return fmt.Errorf("invalid vision max tokens: %d (must not be negative)", c.Vision.MaxTokens)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute (must be positive)", c.Server.RateLimit.RequestsPerMinute)
	}

	if err := onnx.ValidateGPUConfig(c.GPU); err != nil {
		return fmt.Errorf("invalid GPU configuration: %w", err)
	}
	return nil
}

func validateDetector(name string, d DetectorConfig) error {
	switch d.Kind {
	case detector.KindONNX, "":
		if d.ModelPath == "" {
			return fmt.Errorf("%s.model_path is required for the onnx detector", name)
		}
	case detector.KindLabels:
		if d.LabelDir == "" {
			return fmt.Errorf("%s.label_dir is required for the labels detector", name)
		}
	case detector.KindRemote:
		if d.URL == "" {
			return fmt.Errorf("%s.url is required for the remote detector", name)
		}
	default:
		return fmt.Errorf("invalid %s.kind: %s (must be one of: onnx, labels, remote)", name, d.Kind)
	}
	if err := validateThreshold(d.Confidence, name+".confidence"); err != nil {
		return err
	}
	return validateThreshold(d.IoU, name+".iou")
}

// ToLoggingConfig returns the logger settings; verbose forces debug.
func (c *Config) ToLoggingConfig() logging.Config {
	level := c.LogLevel
	if c.Verbose {
		level = "debug"
	}
	return logging.Config{
		Level:      level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Nodes = c.toDetectorConfig(c.Pipeline.Nodes, detector.NodeClassNames)
	cfg.Texts = c.toDetectorConfig(c.Pipeline.Text, detector.TextClassNames)
	cfg.NodeConfidence = c.Pipeline.Nodes.Confidence
	cfg.TextConfidence = c.Pipeline.Text.Confidence
	cfg.NodeMerge.Threshold = c.Pipeline.NodeMergeThreshold
	cfg.TextMerge.Threshold = c.Pipeline.TextMergeThreshold
	cfg.CropOrder = pipeline.CropOrder(c.Pipeline.CropOrder)
	cfg.Recognition = c.Pipeline.Recognition
	cfg.Vision = c.toVisionConfig()
	cfg.SaveResults = c.Output.SaveResults
	cfg.ResultsDir = c.Output.ResultsDir
	return cfg
}

// toDetectorConfig converts to detector.Config.
func (c *Config) toDetectorConfig(d DetectorConfig, classes []string) detector.Config {
	return detector.Config{
		Kind:        d.Kind,
		ModelPath:   d.ModelPath,
		LabelDir:    d.LabelDir,
		URL:         d.URL,
		Classes:     classes,
		InputSize:   d.InputSize,
		IoU:         d.IoU,
		NumThreads:  d.NumThreads,
		LibraryPath: c.OnnxLibrary,
		GPU:         c.GPU,
		Timeout:     time.Duration(d.TimeoutSec) * time.Second,
	}
}

// toVisionConfig converts to recognizer.VisionConfig.
func (c *Config) toVisionConfig() recognizer.VisionConfig {
	return recognizer.VisionConfig{
		Provider:  c.Vision.Provider,
		ServerURL: c.Vision.ServerURL,
		Model:     c.Vision.Model,
		APIKey:    c.Vision.APIKey,
		MaxTokens: c.Vision.MaxTokens,
		Prompt:    c.Vision.Prompt,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
