// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	BACKOFFICE_HOST="0.0.0.0"
//	BACKOFFICE_PORT="8080"
//	BACKOFFICE_HEALTH_PORT="9090"
//	BACKOFFICE_READ_TIMEOUT="15s"
//	BACKOFFICE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	BACKOFFICE_POSTGRES_URL="postgres://localhost/backoffice"
//	BACKOFFICE_POSTGRES_REPLICA_URLS="postgres://replica-1/backoffice,postgres://replica-2/backoffice"
//	BACKOFFICE_POSTGRES_MAX_CONNS="25"
//
// Cache settings:
//
//	BACKOFFICE_CACHE_ENABLED="true"
//	BACKOFFICE_REDIS_ADDR="localhost:6379"
//	BACKOFFICE_CACHE_REDIS_TTL="15m"
//
// Object storage settings (lot photos):
//
//	BACKOFFICE_S3_BUCKET="backoffice-photos"
//	BACKOFFICE_S3_REGION="us-east-1"
//	BACKOFFICE_S3_ENDPOINT="http://minio:9000"  # optional, for MinIO
//
// Integrity runner settings:
//
//	BACKOFFICE_INTEGRITY_SCHEDULE="0 3 * * *"
//	BACKOFFICE_INTEGRITY_PHOTO_CHECKS="false"
//
// Observability settings:
//
//	BACKOFFICE_LOG_LEVEL="info"  # debug, info, warn, error
//	BACKOFFICE_METRICS_ENABLED="true"
//	BACKOFFICE_OTEL_ENABLED="true"
//	BACKOFFICE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database configuration
//   - pkg/observability: Uses observability configuration
package config
