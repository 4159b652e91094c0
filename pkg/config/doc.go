// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads IDEAHUB_* environment variables, after loading a .env file
// if one exists, and validates the result. An optional YAML policy file adds
// scopes and overrides rate limits; WatchPolicy reloads its scopes on change.
//
// # Configuration Structure
//
// Server settings:
//
//	IDEAHUB_HOST="0.0.0.0"
//	IDEAHUB_PORT="8080"
//	IDEAHUB_HEALTH_PORT="9090"
//	IDEAHUB_ALLOWED_ORIGINS="chrome-extension://<id>"
//
// Storage settings:
//
//	IDEAHUB_STORAGE_TYPE="postgres"  # memory, postgres
//	IDEAHUB_POSTGRES_URL="postgres://localhost/ideahub"
//	IDEAHUB_POSTGRES_REPLICA_URLS="postgres://replica1/ideahub,postgres://replica2/ideahub"
//	IDEAHUB_REDIS_URL="redis://localhost:6379/0"
//	IDEAHUB_USER_CACHE_SIZE="1000"
//	IDEAHUB_USER_CACHE_TTL="5m"
//
// Identity settings:
//
//	IDEAHUB_SESSION_SECRET="<at least 32 bytes>"
//	IDEAHUB_SESSION_ISSUER="ideahub"
//	IDEAHUB_TOUCH_MODE="batch"  # async, batch
//	IDEAHUB_TOUCH_SCHEDULE="@every 30s"
//
// Rate limiting:
//
//	IDEAHUB_RATE_LIMIT_PER_KEY="600"
//	IDEAHUB_RATE_LIMIT_ANONYMOUS="60"
//	IDEAHUB_RATE_LIMIT_WINDOW="1m"
//
// Observability:
//
//	IDEAHUB_LOG_LEVEL="info"
//	IDEAHUB_OTEL_ENABLED="true"
//	IDEAHUB_OTEL_ENDPOINT="otel-collector:4317"
//
// # Policy File
//
//	scopes:
//	  - notes:write
//	rate_limits:
//	  per_key: 300
//	  window: 1m
package config
