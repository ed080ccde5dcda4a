package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig() should validate cleanly, got %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Load() with a missing file = %+v, want defaults", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailstate.yaml")
	contents := "engine:\n  cas_retries: 5\nstore:\n  driver: memory\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.CASRetries != 5 {
		t.Errorf("Engine.CASRetries = %d, want 5", cfg.Engine.CASRetries)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	// Fields the file doesn't mention keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info (unset field should default)", cfg.Logging.Level)
	}
}

func TestValidate_CASRetriesBounds(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		wantErr bool
	}{
		{"below minimum", 0, true},
		{"minimum", 1, false},
		{"maximum", 10, false},
		{"above maximum", 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Engine.CASRetries = tt.retries
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_IdleTimeout(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Engine.IdleTimeout = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unparseable idle_timeout")
	}

	cfg.Engine.IdleTimeout = "-5m"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a non-positive idle_timeout")
	}

	cfg.Engine.IdleTimeout = "45s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error for a valid idle_timeout: %v", err)
	}
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when sqlite driver has no dsn")
	}

	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory driver should not require a dsn: %v", err)
	}

	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized store driver")
	}
}

func TestValidate_BusDriver(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Bus.Driver = "redis"
	cfg.Bus.RedisURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when redis driver has no redis_url")
	}

	cfg.Bus.Driver = "memory"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory driver should not require a redis_url: %v", err)
	}

	cfg.Bus.Driver = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized bus driver")
	}
}

func TestValidate_LoggingLevelAndFormat(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Logging.Level = "trace"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized logging level")
	}
	cfg.Logging.Level = "warn"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error for a valid logging level: %v", err)
	}

	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized logging format")
	}
}

func TestValidate_MetricsListenRequiredWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when metrics are enabled with no listen address")
	}

	cfg.Metrics.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled metrics should not require a listen address: %v", err)
	}
}

func TestIdleTimeoutDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.IdleTimeout = "45s"
	if got, want := cfg.IdleTimeoutDuration(), 45*time.Second; got != want {
		t.Errorf("IdleTimeoutDuration() = %v, want %v", got, want)
	}

	cfg.Engine.IdleTimeout = ""
	if got, want := cfg.IdleTimeoutDuration(), 30*time.Minute; got != want {
		t.Errorf("IdleTimeoutDuration() with unset field = %v, want %v", got, want)
	}

	cfg.Engine.IdleTimeout = "garbage"
	if got, want := cfg.IdleTimeoutDuration(), 30*time.Minute; got != want {
		t.Errorf("IdleTimeoutDuration() with unparseable field = %v, want %v", got, want)
	}
}
