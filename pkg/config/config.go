package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sraphaz/araponga/pkg/observability"
)

// Cache backend selection.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Cache configuration
	Cache CacheConfig

	// Audit configuration
	Audit AuditConfig

	// Feature flag configuration
	Flags FlagsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds postgres connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// CacheConfig holds the decision cache settings
type CacheConfig struct {
	Backend string
	TTL     time.Duration

	// Redis backend
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Memory backend
	MemorySize int
}

// AuditConfig holds audit sink settings
type AuditConfig struct {
	// FilePath enables the JSONL file logger when non-empty.
	FilePath string
	// DBEnabled enables the database audit logger.
	DBEnabled bool
}

// FlagsConfig holds the feature flag source settings
type FlagsConfig struct {
	// FilePath points at a YAML flag file; empty means all flags default on.
	FilePath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ARAPONGA_HOST", "0.0.0.0"),
			Port:            getEnv("ARAPONGA_PORT", "8080"),
			ReadTimeout:     getEnvDuration("ARAPONGA_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ARAPONGA_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ARAPONGA_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ARAPONGA_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("ARAPONGA_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("ARAPONGA_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("ARAPONGA_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("ARAPONGA_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Cache: CacheConfig{
			Backend:         getEnv("ARAPONGA_CACHE_BACKEND", CacheBackendMemory),
			TTL:             getEnvDuration("ARAPONGA_CACHE_TTL", 5*time.Minute),
			RedisAddr:       getEnv("ARAPONGA_REDIS_ADDR", "localhost:6379"),
			RedisPassword:   getEnv("ARAPONGA_REDIS_PASSWORD", ""),
			RedisDB:         getEnvInt("ARAPONGA_REDIS_DB", 0),
			RedisMaxRetries: getEnvInt("ARAPONGA_REDIS_MAX_RETRIES", 3),
			RedisPoolSize:   getEnvInt("ARAPONGA_REDIS_POOL_SIZE", 10),
			MemorySize:      getEnvInt("ARAPONGA_MEMORY_CACHE_SIZE", 100000),
		},
		Audit: AuditConfig{
			FilePath:  getEnv("ARAPONGA_AUDIT_FILE", ""),
			DBEnabled: getEnvBool("ARAPONGA_AUDIT_DB_ENABLED", false),
		},
		Flags: FlagsConfig{
			FilePath: getEnv("ARAPONGA_FLAGS_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("ARAPONGA_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("ARAPONGA_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("ARAPONGA_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("ARAPONGA_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("ARAPONGA_OTEL_SERVICE_NAME", "araponga-access"),
			OTelServiceVersion: getEnv("ARAPONGA_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("ARAPONGA_OTEL_INSECURE", true),
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

	switch c.Cache.Backend {
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis cache backend")
		}
	case CacheBackendMemory:
		if c.Cache.MemorySize <= 0 {
			return fmt.Errorf("memory cache size must be positive")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be redis or memory)", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Audit.DBEnabled && c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required when the database audit logger is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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
