// Package config loads and validates the monitor's YAML configuration.
//
// Everything has a sensible default; a missing config file yields a runnable
// configuration that reads decoder lines from stdin. Command-line flags in
// cmd/p2000d override the common knobs after loading.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aoi-validoku/p2000/errors"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "72h" or "10s". Bare numbers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete monitor configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Capcode CapcodeConfig `yaml:"capcode"`
	Store   StoreConfig   `yaml:"store"`
	Hub     HubConfig     `yaml:"hub"`
	Gateway GatewayConfig `yaml:"gateway"`
	Metrics MetricsConfig `yaml:"metrics"`
	NATS    NATSConfig    `yaml:"nats"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// IngestConfig selects the decoder stream source.
type IngestConfig struct {
	// Command is spawned via /bin/sh -c; empty reads stdin. Typically
	// "rtl_fm -f 169.65M ... | multimon-ng -a FLEX -t raw -".
	Command string `yaml:"command"`
}

// CapcodeConfig locates the capcode table.
type CapcodeConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig controls retention and persistence.
type StoreConfig struct {
	Path          string   `yaml:"path"` // snapshot file, empty disables persistence
	Retention     Duration `yaml:"retention"`
	FlushInterval Duration `yaml:"flush_interval"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// HubConfig controls broadcast backpressure.
type HubConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	Addr         string   `yaml:"addr"`
	PingInterval Duration `yaml:"ping_interval"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// NATSConfig controls the optional alert mirror.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Capcode: CapcodeConfig{
			Path: "capcodes.csv",
		},
		Store: StoreConfig{
			Path:          "alerts.json",
			Retention:     Duration(72 * time.Hour),
			FlushInterval: Duration(10 * time.Second),
			SweepInterval: Duration(time.Minute),
		},
		Hub: HubConfig{
			QueueSize: 256,
		},
		Gateway: GatewayConfig{
			Addr:         ":8080",
			PingInterval: Duration(30 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file and fills in defaults. An empty path returns
// the defaults; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load",
			fmt.Sprintf("read config file %s", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load",
			fmt.Sprintf("parse config file %s", path))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults backfills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Capcode.Path == "" {
		c.Capcode.Path = def.Capcode.Path
	}
	if c.Store.Retention <= 0 {
		c.Store.Retention = def.Store.Retention
	}
	if c.Store.FlushInterval <= 0 {
		c.Store.FlushInterval = def.Store.FlushInterval
	}
	if c.Store.SweepInterval <= 0 {
		c.Store.SweepInterval = def.Store.SweepInterval
	}
	if c.Hub.QueueSize <= 0 {
		c.Hub.QueueSize = def.Hub.QueueSize
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = def.Gateway.Addr
	}
	if c.Gateway.PingInterval <= 0 {
		c.Gateway.PingInterval = def.Gateway.PingInterval
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = def.Gateway.WriteTimeout
	}
	if c.Metrics.Port <= 0 {
		c.Metrics.Port = def.Metrics.Port
	}
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if c.Capcode.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"capcode.path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.url is required when nats.enabled")
	}
	return nil
}
