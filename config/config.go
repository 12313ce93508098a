// Package config reads the YAML configuration that selects and tunes a backend.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend"
	"github.com/mwantia/tbf/backend/readonly"
	"github.com/mwantia/tbf/log"
	"github.com/mwantia/tbf/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidValue is returned when a config value is invalid.
	ErrInvalidValue = errors.New("invalid config value")
)

// Default values applied when not configured.
const (
	DefaultBackend   = ":memory:"
	DefaultLogLevel  = "info"
	DefaultNamespace = "tbf"
)

// Config contains the configuration of a file store.
type Config struct {
	Backend  string  `yaml:"backend"`
	ReadOnly bool    `yaml:"read_only,omitempty"`
	Limits   Limits  `yaml:"limits,omitempty"`
	Log      Log     `yaml:"log,omitempty"`
	Metrics  Metrics `yaml:"metrics,omitempty"`

	// path is the file this config was loaded from
	path string
}

// Limits holds backend limits.
type Limits struct {
	MaxObjectSize int64  `yaml:"max_object_size,omitempty"`
	CounterFile   string `yaml:"counter_file,omitempty"`
}

// Log holds logging options.
type Log struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	JSON       bool   `yaml:"json,omitempty"`
	NoTerminal bool   `yaml:"no_terminal,omitempty"`
}

// Metrics holds prometheus instrumentation options.
type Metrics struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: DefaultBackend,
		Log: Log{
			Level: DefaultLogLevel,
		},
		Metrics: Metrics{
			Namespace: DefaultNamespace,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	cfg.path = path

	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("malformed config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("%w: backend must not be empty", ErrInvalidValue)
	}
	if _, err := log.Parse(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if c.Limits.MaxObjectSize < 0 {
		return fmt.Errorf("%w: max_object_size must not be negative, got %d",
			ErrInvalidValue, c.Limits.MaxObjectSize)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("%w: metrics namespace must not be empty", ErrInvalidValue)
	}

	return nil
}

// Path returns the file this config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Logger creates the logger described by the log section.
func (c *Config) Logger() (*log.Logger, error) {
	level, err := log.Parse(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	logger := log.NewLogger("tbf", level, c.Log.File, c.Log.NoTerminal)
	logger.JSON = c.Log.JSON

	return logger, nil
}

// BackendOptions converts the limits and the logger into backend options.
func (c *Config) BackendOptions(logger *log.Logger) []tbf.BackendOption {
	opts := []tbf.BackendOption{
		tbf.WithLogger(logger),
	}
	if c.Limits.MaxObjectSize > 0 {
		opts = append(opts, tbf.WithMaxObjectSize(c.Limits.MaxObjectSize))
	}
	if c.Limits.CounterFile != "" {
		opts = append(opts, tbf.WithCounterFile(c.Limits.CounterFile))
	}

	return opts
}

// Open creates the configured backend, wraps it read-only and instruments it when
// configured, and opens it. A nil registerer disables instrumentation.
func (c *Config) Open(ctx context.Context, logger *log.Logger, reg prometheus.Registerer) (tbf.FileSystem, error) {
	fs, err := backend.ParseBackendAddress(c.Backend, c.BackendOptions(logger)...)
	if err != nil {
		return nil, err
	}

	if c.ReadOnly {
		fs = readonly.NewReadOnly(fs)
	}

	if c.Metrics.Enabled && reg != nil {
		fs, err = metrics.Instrument(fs, reg, c.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
	}

	if err := fs.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open backend '%s': %w", fs.Name(), err)
	}

	logger.Info("Opened backend '%s'", fs.Name())
	return fs, nil
}
