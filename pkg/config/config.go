// Package config defines the root configuration file format.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultToolBinary is the external result-bundle tool invoked by
	// the tool backend.
	DefaultToolBinary = "xcresulttool"

	// DefaultSourceBackend invokes the external tool first and falls
	// back to the bundle's embedded database.
	DefaultSourceBackend = "auto"

	// DefaultOutputPath is where the generated report document is
	// written.
	DefaultOutputPath = "./timeline-report.json"
)

// Config is the root configuration for xctimeline.
type Config struct {
	Global   GlobalConfig   `yaml:"global"`
	Bundle   BundleConfig   `yaml:"bundle"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	History  *HistoryConfig `yaml:"history,omitempty"`
	Serve    ServeConfig    `yaml:"serve,omitempty"`
	Upload   *UploadConfig  `yaml:"upload,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// BundleConfig locates the result bundle and its exported attachments.
type BundleConfig struct {
	Path           string       `yaml:"path"`
	AttachmentsDir string       `yaml:"attachments_dir,omitempty"`
	Source         SourceConfig `yaml:"source,omitempty"`
}

// SourceConfig selects the record backend. Backend is one of "tool",
// "db" or "auto"; auto prefers the external tool and falls back to the
// embedded database per call.
type SourceConfig struct {
	Backend    string `yaml:"backend,omitempty"`
	ToolBinary string `yaml:"tool_binary,omitempty"`
}

// PipelineConfig tunes run reconstruction.
type PipelineConfig struct {
	Concurrency int    `yaml:"concurrency,omitempty"`
	OutputPath  string `yaml:"output_path,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Bundle.Source.Backend == "" {
		c.Bundle.Source.Backend = DefaultSourceBackend
	}

	if c.Bundle.Source.ToolBinary == "" {
		c.Bundle.Source.ToolBinary = DefaultToolBinary
	}

	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = runtime.GOMAXPROCS(0)
	}

	if c.Pipeline.OutputPath == "" {
		c.Pipeline.OutputPath = DefaultOutputPath
	}

	if c.History != nil {
		c.History.applyDefaults()
	}

	c.Serve.applyDefaults()

	if c.Upload != nil {
		c.Upload.applyDefaults()
	}
}

// validBackends is the set of supported source backends.
var validBackends = map[string]struct{}{
	"tool": {},
	"db":   {},
	"auto": {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Bundle.Path == "" {
		return fmt.Errorf("bundle path is required")
	}

	if _, ok := validBackends[c.Bundle.Source.Backend]; !ok {
		return fmt.Errorf("unknown source backend %q", c.Bundle.Source.Backend)
	}

	if c.History != nil {
		if err := c.History.Validate(); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	if c.Upload != nil {
		if err := c.Upload.Validate(); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}

	return nil
}
