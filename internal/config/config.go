// Package config handles classifier configuration loading.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Model   ModelConfig   `toml:"model"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls the HTTP listener and the files it serves.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	ViewFile       string `toml:"view_file"`
	StaticDir      string `toml:"static_dir"`
	StaticPrefix   string `toml:"static_prefix"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// ModelConfig controls where the artifact comes from and how it is loaded.
type ModelConfig struct {
	URL             string   `toml:"url"`
	Path            string   `toml:"path"`
	MetadataURL     string   `toml:"metadata_url"`
	MetadataPath    string   `toml:"metadata_path"`
	LibraryPath     string   `toml:"library_path"`
	UseCUDA         bool     `toml:"use_cuda"`
	DownloadTimeout Duration `toml:"download_timeout"`
}

// LoggingConfig selects the apex/log handler and level.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration lets TOML files spell timeouts as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			ViewFile:       "app/view/index.html",
			StaticDir:      "app/static",
			StaticPrefix:   "/static/",
			MaxUploadBytes: 10 << 20,
		},
		Model: ModelConfig{
			Path:            "models/shop_classifier.onnx",
			MetadataPath:    "models/model_metadata.json",
			DownloadTimeout: Duration{5 * time.Minute},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the configuration from the given path and applies
// CLASSIFIER_* environment overrides on top.
// If the file doesn't exist, defaults are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"CLASSIFIER_HOST":          &c.Server.Host,
		"CLASSIFIER_VIEW_FILE":     &c.Server.ViewFile,
		"CLASSIFIER_STATIC_DIR":    &c.Server.StaticDir,
		"CLASSIFIER_MODEL_URL":     &c.Model.URL,
		"CLASSIFIER_MODEL_PATH":    &c.Model.Path,
		"CLASSIFIER_METADATA_URL":  &c.Model.MetadataURL,
		"CLASSIFIER_METADATA_PATH": &c.Model.MetadataPath,
		"ONNXRUNTIME_LIB":          &c.Model.LibraryPath,
		"CLASSIFIER_LOG_LEVEL":     &c.Logging.Level,
		"CLASSIFIER_LOG_FORMAT":    &c.Logging.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	// PORT is what most hosting platforms set.
	for _, key := range []string{"PORT", "CLASSIFIER_PORT"} {
		if v, ok := os.LookupEnv(key); ok {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			c.Server.Port = port
		}
	}

	if v, ok := os.LookupEnv("CLASSIFIER_USE_CUDA"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CLASSIFIER_USE_CUDA %q: %w", v, err)
		}
		c.Model.UseCUDA = b
	}
	return nil
}

// Validate reports the first problem found in the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ViewFile == "" {
		return fmt.Errorf("server.view_file is required")
	}
	if c.Server.StaticDir == "" || c.Server.StaticPrefix == "" {
		return fmt.Errorf("server.static_dir and server.static_prefix are required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Model.Path == "" || c.Model.MetadataPath == "" {
		return fmt.Errorf("model.path and model.metadata_path are required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
