package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "pedigree"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PEDIGREE"
)

// legacyEnv maps configuration keys to the unprefixed environment variables
// understood by earlier deployments of the service.
var legacyEnv = map[string]string{
	"pipeline.nodes.model_path": "NODES_MODEL_PATH",
	"pipeline.text.model_path":  "TEXT_MODEL_PATH",
	"pipeline.nodes.confidence": "NODES_MODEL_CONF",
	"pipeline.text.confidence":  "TEXT_MODEL_CONF",
	"vision.server_url":         "VLLM_SERVER_URL",
	"vision.model":              "VLLM_MODEL_ID",
	"output.save_results":       "SAVE_RESULTS",
	"logging.file":              "LOG_FILE_PATH",
}

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader backed by v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and sets defaults.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	if err := l.setupEnvironmentVariables(); err != nil {
		return nil, err
	}
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars only
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() error {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// The prefixed name wins over the legacy one.
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := l.v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}
	return nil
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("onnx_library", defaults.OnnxLibrary)

	l.v.SetDefault("logging.file", defaults.Logging.File)
	l.v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	l.v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	for name, d := range map[string]DetectorConfig{"nodes": defaults.Pipeline.Nodes, "text": defaults.Pipeline.Text} {
		prefix := "pipeline." + name + "."
		l.v.SetDefault(prefix+"kind", d.Kind)
		l.v.SetDefault(prefix+"model_path", d.ModelPath)
		l.v.SetDefault(prefix+"label_dir", d.LabelDir)
		l.v.SetDefault(prefix+"url", d.URL)
		l.v.SetDefault(prefix+"confidence", d.Confidence)
		l.v.SetDefault(prefix+"input_size", d.InputSize)
		l.v.SetDefault(prefix+"iou", d.IoU)
		l.v.SetDefault(prefix+"num_threads", d.NumThreads)
		l.v.SetDefault(prefix+"timeout_sec", d.TimeoutSec)
	}
	l.v.SetDefault("pipeline.node_merge_threshold", defaults.Pipeline.NodeMergeThreshold)
	l.v.SetDefault("pipeline.text_merge_threshold", defaults.Pipeline.TextMergeThreshold)
	l.v.SetDefault("pipeline.crop_order", defaults.Pipeline.CropOrder)
	l.v.SetDefault("pipeline.recognition.max_workers", defaults.Pipeline.Recognition.MaxWorkers)
	l.v.SetDefault("pipeline.recognition.timeout", defaults.Pipeline.Recognition.Timeout)

	l.v.SetDefault("vision.provider", defaults.Vision.Provider)
	l.v.SetDefault("vision.server_url", defaults.Vision.ServerURL)
	l.v.SetDefault("vision.model", defaults.Vision.Model)
	l.v.SetDefault("vision.api_key", defaults.Vision.APIKey)
	l.v.SetDefault("vision.max_tokens", defaults.Vision.MaxTokens)
	l.v.SetDefault("vision.prompt", defaults.Vision.Prompt)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.overlay_dir", defaults.Output.OverlayDir)
	l.v.SetDefault("output.save_results", defaults.Output.SaveResults)
	l.v.SetDefault("output.results_dir", defaults.Output.ResultsDir)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.save_dir", defaults.Server.SaveDir)
	l.v.SetDefault("server.rate_limit.enabled", defaults.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", defaults.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.burst", defaults.Server.RateLimit.Burst)

	l.v.SetDefault("gpu.enabled", defaults.GPU.UseGPU)
	l.v.SetDefault("gpu.device", defaults.GPU.DeviceID)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.GPUMemLimit)
	l.v.SetDefault("gpu.arena_extend_strategy", defaults.GPU.ArenaExtendStrategy)
	l.v.SetDefault("gpu.cudnn_conv_algo_search", defaults.GPU.CUDNNConvAlgoSearch)
	l.v.SetDefault("gpu.copy_in_default_stream", defaults.GPU.DoCopyInDefaultStream)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteDefaultConfig writes the default configuration as YAML to filename.
func WriteDefaultConfig(filename string, overwrite bool) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if !overwrite {
		if _, err := os.Stat(filename); err == nil {
			return fmt.Errorf("config file already exists: %s", filename)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(filename, data, 0o600)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
		paths = append(paths, filepath.Join(home, ".config", "pedigree"))
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "pedigree"))
	}

	paths = append(paths, "/etc/pedigree")

	return paths
}
