package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/perchsocial/perch/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Resolver      ResolverConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the notification publisher
type RedisConfig struct {
	URL     string
	Channel string
}

// ResolverConfig holds Access Resolution Engine tunables
type ResolverConfig struct {
	// ClosureCacheSize is the maximum number of user group closures kept
	// in the expirable LRU.
	ClosureCacheSize int
	// ClosureCacheTTL bounds how stale a cached closure may be.
	ClosureCacheTTL time.Duration
	// MaxWalkDepth bounds ancestor walks on top of the visited set.
	MaxWalkDepth int
}

// NotifyConfig holds notification delivery settings
type NotifyConfig struct {
	Enabled           bool
	MaxAttempts       int
	RetryInterval     time.Duration
	RetentionSchedule string
	RetentionAge      time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PERCH_HOST", "0.0.0.0"),
			Port:            getEnv("PERCH_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PERCH_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PERCH_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PERCH_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PERCH_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PERCH_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("PERCH_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("PERCH_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("PERCH_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("PERCH_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:     getEnv("PERCH_REDIS_URL", ""),
			Channel: getEnv("PERCH_REDIS_CHANNEL", "perch.events"),
		},
		Resolver: ResolverConfig{
			ClosureCacheSize: getEnvInt("PERCH_CLOSURE_CACHE_SIZE", 4096),
			ClosureCacheTTL:  getEnvDuration("PERCH_CLOSURE_CACHE_TTL", 30*time.Second),
			MaxWalkDepth:     getEnvInt("PERCH_MAX_WALK_DEPTH", 256),
		},
		Notify: NotifyConfig{
			Enabled:           getEnvBool("PERCH_NOTIFY_ENABLED", true),
			MaxAttempts:       getEnvInt("PERCH_NOTIFY_MAX_ATTEMPTS", 5),
			RetryInterval:     getEnvDuration("PERCH_NOTIFY_RETRY_INTERVAL", 30*time.Second),
			RetentionSchedule: getEnv("PERCH_NOTIFY_RETENTION_SCHEDULE", "@hourly"),
			RetentionAge:      getEnvDuration("PERCH_NOTIFY_RETENTION_AGE", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("PERCH_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("PERCH_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Notify.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when notifications are enabled")
	}

	if c.Resolver.ClosureCacheSize <= 0 {
		return fmt.Errorf("closure cache size must be positive")
	}
	if c.Resolver.MaxWalkDepth <= 0 {
		return fmt.Errorf("max walk depth must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
