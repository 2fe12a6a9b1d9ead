package config

import (
	"testing"
	"time"

	"github.com/perchsocial/perch/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PERCH_POSTGRES_URL", "postgres://localhost/perch")
	t.Setenv("PERCH_REDIS_URL", "redis://localhost:6379")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if cfg.Resolver.ClosureCacheSize != 4096 {
		t.Errorf("Expected default closure cache size 4096, got %d", cfg.Resolver.ClosureCacheSize)
	}
	if cfg.Redis.Channel != "perch.events" {
		t.Errorf("Expected default channel perch.events, got %s", cfg.Redis.Channel)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected default log level info, got %s", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PERCH_POSTGRES_URL", "postgres://localhost/perch")
	t.Setenv("PERCH_REDIS_URL", "redis://localhost:6379")
	t.Setenv("PERCH_PORT", "9999")
	t.Setenv("PERCH_LOG_LEVEL", "debug")
	t.Setenv("PERCH_CLOSURE_CACHE_TTL", "2m")
	t.Setenv("PERCH_NOTIFY_MAX_ATTEMPTS", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Expected port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug log level, got %s", cfg.Observability.LogLevel)
	}
	if cfg.Resolver.ClosureCacheTTL != 2*time.Minute {
		t.Errorf("Expected closure TTL 2m, got %s", cfg.Resolver.ClosureCacheTTL)
	}
	if cfg.Notify.MaxAttempts != 3 {
		t.Errorf("Expected 3 notify attempts, got %d", cfg.Notify.MaxAttempts)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing postgres URL", func(c *Config) { c.Database.URL = "" }},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"notify enabled without redis", func(c *Config) { c.Redis.URL = "" }},
		{"non-positive cache size", func(c *Config) { c.Resolver.ClosureCacheSize = 0 }},
		{"non-positive walk depth", func(c *Config) { c.Resolver.MaxWalkDepth = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PERCH_POSTGRES_URL", "postgres://localhost/perch")
			t.Setenv("PERCH_REDIS_URL", "redis://localhost:6379")

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}
