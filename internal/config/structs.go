//nolint:lll
package config

import (
	"github.com/MeKo-Tech/pedigree/internal/onnx"
	"github.com/MeKo-Tech/pedigree/internal/pipeline"
)

// Config represents the complete configuration for the pedigree application.
// It includes settings for all commands (image, serve, config) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose     bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	OnnxLibrary string `mapstructure:"onnx_library" yaml:"onnx_library" json:"onnx_library"`

	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging" json:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision" json:"vision"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	GPU      onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// LoggingConfig contains the rotating log file settings.
type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
}

// PipelineConfig contains detection, association and recognition settings.
type PipelineConfig struct {
	Nodes              DetectorConfig             `mapstructure:"nodes" yaml:"nodes" json:"nodes"`
	Text               DetectorConfig             `mapstructure:"text" yaml:"text" json:"text"`
	NodeMergeThreshold float64                    `mapstructure:"node_merge_threshold" yaml:"node_merge_threshold" json:"node_merge_threshold"`
	TextMergeThreshold float64                    `mapstructure:"text_merge_threshold" yaml:"text_merge_threshold" json:"text_merge_threshold"`
	CropOrder          string                     `mapstructure:"crop_order" yaml:"crop_order" json:"crop_order"`
	Recognition        pipeline.RecognitionConfig `mapstructure:"recognition" yaml:"recognition" json:"recognition"`
}

// DetectorConfig contains the settings of one detection model.
type DetectorConfig struct {
	Kind       string  `mapstructure:"kind" yaml:"kind" json:"kind"`
	ModelPath  string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LabelDir   string  `mapstructure:"label_dir" yaml:"label_dir" json:"label_dir"`
	URL        string  `mapstructure:"url" yaml:"url" json:"url"`
	Confidence float64 `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	InputSize  int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	IoU        float64 `mapstructure:"iou" yaml:"iou" json:"iou"`
	NumThreads int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	TimeoutSec int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// VisionConfig contains the recognition backend settings.
type VisionConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider" json:"provider"`
	ServerURL string `mapstructure:"server_url" yaml:"server_url" json:"server_url"`
	Model     string `mapstructure:"model" yaml:"model" json:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key" json:"-"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Prompt    string `mapstructure:"prompt" yaml:"prompt" json:"prompt"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format      string `mapstructure:"format" yaml:"format" json:"format"`
	File        string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir  string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	SaveResults bool   `mapstructure:"save_results" yaml:"save_results" json:"save_results"`
	ResultsDir  string `mapstructure:"results_dir" yaml:"results_dir" json:"results_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SaveDir         string          `mapstructure:"save_dir" yaml:"save_dir" json:"save_dir"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst" json:"burst"`
}
