package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty server address", mutate: func(c *Config) { c.Server.Address = "" }},
		{name: "zero read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }},
		{name: "empty signal path", mutate: func(c *Config) { c.Signal.Path = "" }},
		{name: "zero ping interval", mutate: func(c *Config) { c.Signal.PingInterval = 0 }},
		{name: "zero send queue", mutate: func(c *Config) { c.Signal.SendQueueSize = 0 }},
		{name: "zero max message size", mutate: func(c *Config) { c.Signal.MaxMessageSize = 0 }},
		{name: "zero negotiation timeout", mutate: func(c *Config) { c.WebRTC.NegotiationTimeout = 0 }},
		{name: "unknown storage backend", mutate: func(c *Config) { c.Storage.Backend = "etcd" }},
		{name: "redis backend without address", mutate: func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Address = ""
		}},
		{name: "redis backend without pool", mutate: func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.PoolSize = 0
		}},
		{name: "empty jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }},
		{name: "zero token ttl", mutate: func(c *Config) { c.Auth.TokenTTL = 0 }},
		{name: "rate limiting enabled with zero rate", mutate: func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.MessagesPerSecond = 0
		}},
		{name: "rate limiting enabled with zero burst", mutate: func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.Burst = 0
		}},
		{name: "tracing enabled without url", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
		{name: "tracing sample rate out of range", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{name: "empty log level", mutate: func(c *Config) { c.Logging.Level = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestValidate_RateLimitingDisabledAllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config when rate limiting disabled, got: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address, got %q", cfg.Server.Address)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  address: ":9999"
auth:
  jwt_secret: "file-secret"
  token_ttl: 1h
storage:
  backend: "memory"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("expected file address, got %q", cfg.Server.Address)
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Errorf("expected file secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL.Std() != time.Hour {
		t.Errorf("expected 1h ttl, got %v", cfg.Auth.TokenTTL)
	}
	// Unspecified sections keep their defaults.
	if cfg.Signal.Path != "/ws" {
		t.Errorf("expected default signal path, got %q", cfg.Signal.Path)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_SERVER_ADDRESS", ":7777")
	t.Setenv("PARLEY_LOG_LEVEL", "debug")

	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Errorf("expected env address, got %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
