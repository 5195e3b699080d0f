// Package config loads and persists the application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// DefaultFileName is the config file name inside the config directory.
const DefaultFileName = "config.yaml"

// ErrInvalidConfig marks a config that failed validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the application configuration.
type Config struct {
	// DocsRoot is the directory the server lists and renders files from.
	DocsRoot string `yaml:"docs_root"`

	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// PluginPaths are the extension search directories in precedence
	// order. Empty means the built-in defaults.
	PluginPaths []string `yaml:"plugin_paths"`

	// PluginPriority lists extension identifiers whose capabilities
	// run last, in order. Later entries win same-name conflicts.
	PluginPriority []string `yaml:"plugin_priority"`

	// Experimental enables experimental pipeline capabilities.
	Experimental bool `yaml:"experimental"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// StatePath is the enablement store file. Empty derives it from
	// the config directory.
	StatePath string `yaml:"state_path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DocsRoot: "docs",
		Addr:     "127.0.0.1:8300",
		LogLevel: "info",
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "docnexus", DefaultFileName)
	}
	return DefaultFileName
}

// Load reads a config file, filling unset fields with defaults. A
// missing file is not an error; it yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults restores required fields an explicit file left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.DocsRoot == "" {
		c.DocsRoot = d.DocsRoot
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SlogLevel maps the configured level to slog's level type.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
