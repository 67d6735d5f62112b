package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cardfolio/backoffice/pkg/blob"
	"github.com/cardfolio/backoffice/pkg/observability"
	"github.com/cardfolio/backoffice/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.Config

	// Redis configuration (catalog cache)
	Redis RedisConfig

	// Object storage configuration (lot photos)
	Blob blob.Config

	// Catalog cache tuning
	Cache CacheConfig

	// Integrity runner configuration
	Integrity IntegrityConfig

	// Observability configuration
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds catalog cache tuning
type CacheConfig struct {
	Enabled   bool
	LocalSize int
	LocalTTL  time.Duration
	RedisTTL  time.Duration
}

// IntegrityConfig holds integrity runner settings
type IntegrityConfig struct {
	// Schedule is a cron expression for the background validation run
	Schedule string
	// PhotoChecksEnabled wires the object store into the orphan check
	PhotoChecksEnabled bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Blob:          loadBlobConfig(),
		Cache:         loadCacheConfig(),
		Integrity:     loadIntegrityConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BACKOFFICE_HOST", "0.0.0.0"),
		Port:            getEnv("BACKOFFICE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BACKOFFICE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BACKOFFICE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BACKOFFICE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BACKOFFICE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("BACKOFFICE_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("BACKOFFICE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() postgres.Config {
	return postgres.Config{
		PrimaryURL:  getEnv("BACKOFFICE_POSTGRES_URL", ""),
		ReplicaURLs: postgres.ParseReplicaURLs(getEnv("BACKOFFICE_POSTGRES_REPLICA_URLS", "")),
		MaxConns:    getEnvInt("BACKOFFICE_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("BACKOFFICE_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("BACKOFFICE_POSTGRES_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("BACKOFFICE_POSTGRES_MAX_LIFETIME", time.Hour),
		MaxIdleTime: getEnvDuration("BACKOFFICE_POSTGRES_MAX_IDLE_TIME", 10*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("BACKOFFICE_REDIS_ADDR", ""),
		Password: getEnv("BACKOFFICE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("BACKOFFICE_REDIS_DB", 0),
	}
}

func loadBlobConfig() blob.Config {
	return blob.Config{
		Endpoint:     getEnv("BACKOFFICE_S3_ENDPOINT", ""),
		Region:       getEnv("BACKOFFICE_S3_REGION", "us-east-1"),
		Bucket:       getEnv("BACKOFFICE_S3_BUCKET", ""),
		AccessKey:    getEnv("BACKOFFICE_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("BACKOFFICE_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("BACKOFFICE_S3_USE_PATH_STYLE", false),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   getEnvBool("BACKOFFICE_CACHE_ENABLED", true),
		LocalSize: getEnvInt("BACKOFFICE_CACHE_LOCAL_SIZE", 1024),
		LocalTTL:  getEnvDuration("BACKOFFICE_CACHE_LOCAL_TTL", time.Minute),
		RedisTTL:  getEnvDuration("BACKOFFICE_CACHE_REDIS_TTL", 15*time.Minute),
	}
}

func loadIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{
		Schedule:           getEnv("BACKOFFICE_INTEGRITY_SCHEDULE", "0 3 * * *"),
		PhotoChecksEnabled: getEnvBool("BACKOFFICE_INTEGRITY_PHOTO_CHECKS", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("BACKOFFICE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BACKOFFICE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BACKOFFICE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BACKOFFICE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BACKOFFICE_OTEL_SERVICE_NAME", "backoffice"),
		OTelServiceVersion: getEnv("BACKOFFICE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BACKOFFICE_OTEL_INSECURE", true),
	}
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

	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required (BACKOFFICE_POSTGRES_URL)")
	}

	if c.Integrity.PhotoChecksEnabled {
		if c.Blob.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when photo checks are enabled")
		}
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
