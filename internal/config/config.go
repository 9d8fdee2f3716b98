// Package config loads predictor settings from a YAML or TOML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/amikos-tech/onnx-predictor/ort"
)

const (
	EnvBatchSize = "PREDICTOR_BATCH_SIZE"
	EnvMode      = "PREDICTOR_MODE"
	EnvLogLevel  = "PREDICTOR_LOG_LEVEL"
	EnvLogFormat = "PREDICTOR_LOG_FORMAT"
)

type RuntimeConfig struct {
	LibraryPath     string `yaml:"library_path" toml:"library_path"`
	CacheDir        string `yaml:"cache_dir" toml:"cache_dir"`
	Version         string `yaml:"version" toml:"version"`
	DisableDownload bool   `yaml:"disable_download" toml:"disable_download"`
	SHA256          string `yaml:"sha256" toml:"sha256"`
}

type PredictorConfig struct {
	BatchSize int `yaml:"batch_size" toml:"batch_size"`
	Mode      int `yaml:"mode" toml:"mode"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Predictor PredictorConfig `yaml:"predictor" toml:"predictor"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Predictor: PredictorConfig{BatchSize: 1},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result. The format is chosen by extension.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			return fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %q", name, v)
		}
		*dst = n
		return nil
	}

	str(ort.EnvLibraryPath, &c.Runtime.LibraryPath)
	str(ort.EnvCacheDir, &c.Runtime.CacheDir)
	str(ort.EnvVersion, &c.Runtime.Version)
	if v, ok := lookup(ort.EnvDisableDownload); ok && strings.TrimSpace(v) != "" {
		disable, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", ort.EnvDisableDownload, err)
		}
		c.Runtime.DisableDownload = disable
	}
	if err := num(EnvBatchSize, &c.Predictor.BatchSize); err != nil {
		return err
	}
	if err := num(EnvMode, &c.Predictor.Mode); err != nil {
		return err
	}
	str(EnvLogLevel, &c.Logging.Level)
	str(EnvLogFormat, &c.Logging.Format)
	return nil
}

func parseBool(raw string) (bool, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed, nil
	}
	switch value {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", raw)
}

// Validate checks field ranges. Mode is not checked; unknown values run as CPU.
func (c *Config) Validate() error {
	if c.Predictor.BatchSize < 1 {
		return fmt.Errorf("predictor.batch_size must be at least 1, got %d", c.Predictor.BatchSize)
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// BootstrapOptions translates the runtime section into ort bootstrap options.
func (c *Config) BootstrapOptions(logger *zap.Logger) []ort.BootstrapOption {
	var opts []ort.BootstrapOption
	if c.Runtime.LibraryPath != "" {
		opts = append(opts, ort.WithBootstrapLibraryPath(c.Runtime.LibraryPath))
	}
	if c.Runtime.CacheDir != "" {
		opts = append(opts, ort.WithBootstrapCacheDir(c.Runtime.CacheDir))
	}
	if c.Runtime.Version != "" {
		opts = append(opts, ort.WithBootstrapVersion(c.Runtime.Version))
	}
	if c.Runtime.SHA256 != "" {
		opts = append(opts, ort.WithBootstrapExpectedSHA256(c.Runtime.SHA256))
	}
	if c.Runtime.DisableDownload {
		opts = append(opts, ort.WithBootstrapDisableDownload(true))
	}
	if logger != nil {
		opts = append(opts, ort.WithBootstrapLogger(logger))
	}
	return opts
}
