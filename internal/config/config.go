// Package config loads the mailbox state engine's configuration via koanf,
// the same YAML-file-plus-defaults pattern the teacher uses for its own
// server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the mailbox state engine.
type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Store    StoreConfig    `koanf:"store"`
	Bus      BusConfig      `koanf:"bus"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// EngineConfig holds the engine's own behavioral knobs.
type EngineConfig struct {
	CASRetries   int    `koanf:"cas_retries"`   // validated to 1–10; the reconciler's CAS loop uses its own fixed bound and does not read this
	IdleTimeout  string `koanf:"idle_timeout"`   // IDLE upper bound (spec.md §4.6)
	IsQResync    bool   `koanf:"is_qresync"`     // default change-emitter mode when a session doesn't negotiate QRESYNC
}

// StoreConfig selects and configures the store.Store backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // "sqlite" or "memory"
	DSN    string `koanf:"dsn"`    // sqlite file path when Driver == "sqlite"
}

// BusConfig selects and configures the changebus.Bus backend.
type BusConfig struct {
	Driver   string `koanf:"driver"` // "redis" or "memory"
	RedisURL string `koanf:"redis_url"`
	Prefix   string `koanf:"prefix"`
}

// LoggingConfig mirrors the teacher's logging configuration shape.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			CASRetries:  3,
			IdleTimeout: "30m",
			IsQResync:   false,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "/var/lib/mailstated/mailstate.db",
		},
		Bus: BusConfig{
			Driver:   "redis",
			RedisURL: "redis://localhost:6379/0",
			Prefix:   "mailstate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9090",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// any field the file doesn't set, and for the whole config when path
// doesn't exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Engine.CASRetries < 1 {
		return fmt.Errorf("engine.cas_retries must be at least 1")
	}
	if c.Engine.CASRetries > 10 {
		return fmt.Errorf("engine.cas_retries cannot exceed 10")
	}

	if c.Engine.IdleTimeout != "" {
		d, err := time.ParseDuration(c.Engine.IdleTimeout)
		if err != nil {
			return fmt.Errorf("engine.idle_timeout is invalid: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("engine.idle_timeout must be positive (got: %s)", c.Engine.IdleTimeout)
		}
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be one of: sqlite, memory (got: %s)", c.Store.Driver)
	}

	switch c.Bus.Driver {
	case "redis":
		if c.Bus.RedisURL == "" {
			return fmt.Errorf("bus.redis_url is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("bus.driver must be one of: redis, memory (got: %s)", c.Bus.Driver)
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}

// IdleTimeoutDuration parses Engine.IdleTimeout, defaulting to 30 minutes
// if unset.
func (c *Config) IdleTimeoutDuration() time.Duration {
	if c.Engine.IdleTimeout == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(c.Engine.IdleTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}
