package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// Touch modes for API key last-used bookkeeping
const (
	TouchModeAsync = "async"
	TouchModeBatch = "batch"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Session verification
	Session SessionConfig

	// Rate limiting on the bearer routes
	RateLimit RateLimitConfig

	// API key last-used bookkeeping
	Touch TouchConfig

	// Capture queue
	Capture CaptureConfig

	// Observability configuration
	Observability ObservabilityConfig

	// PolicyFile is an optional YAML file with extra scopes and rate limits
	PolicyFile string
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
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SessionConfig holds the shared secret used to verify web app sessions
type SessionConfig struct {
	Secret string
	Issuer string
}

// RateLimitConfig holds per-window request limits
type RateLimitConfig struct {
	Enabled           bool
	PerKeyRequests    int
	AnonymousRequests int
	Window            time.Duration
	// TrustedProxies are CIDRs or IPs whose forwarding headers name the client
	TrustedProxies []string
}

// TouchConfig selects how last-used timestamps are written
type TouchConfig struct {
	Mode     string
	Schedule string
	Timeout  time.Duration
}

// CaptureConfig configures the capture queue and worker
type CaptureConfig struct {
	// Queue is "redis" (asynq) or "memory" (inline, for development)
	Queue       string
	Concurrency int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Audit events are also written to Postgres when storage is postgres
	AuditToDatabase bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory, or the file named by IDEAHUB_ENV_FILE, is read first
// and never overrides variables already set.
func LoadConfig() (*Config, error) {
	if err := loadEnvFile(getEnv("IDEAHUB_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Session:       loadSessionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Touch:         loadTouchConfig(),
		Capture:       loadCaptureConfig(),
		Observability: loadObservabilityConfig(),
		PolicyFile:    getEnv("IDEAHUB_POLICY_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDEAHUB_HOST", "0.0.0.0"),
		Port:            getEnv("IDEAHUB_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDEAHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDEAHUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDEAHUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDEAHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("IDEAHUB_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("IDEAHUB_ALLOWED_ORIGINS"),
		HealthPort:      getEnv("IDEAHUB_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("IDEAHUB_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("IDEAHUB_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("IDEAHUB_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("IDEAHUB_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("IDEAHUB_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("IDEAHUB_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.AutoMigrate = getEnvBool("IDEAHUB_AUTO_MIGRATE", false)

	// Redis config
	if redisURL := getEnv("IDEAHUB_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("IDEAHUB_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("IDEAHUB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("IDEAHUB_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("IDEAHUB_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// User display cache
	if size := getEnvInt("IDEAHUB_USER_CACHE_SIZE", -1); size >= 0 {
		cfg.UserCacheSize = size
	}
	if ttl := getEnvDuration("IDEAHUB_USER_CACHE_TTL", 0); ttl > 0 {
		cfg.UserCacheTTL = ttl
	}

	return cfg
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Secret: getEnv("IDEAHUB_SESSION_SECRET", ""),
		Issuer: getEnv("IDEAHUB_SESSION_ISSUER", "ideahub"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("IDEAHUB_RATE_LIMIT_ENABLED", true),
		PerKeyRequests:    getEnvInt("IDEAHUB_RATE_LIMIT_PER_KEY", 600),
		AnonymousRequests: getEnvInt("IDEAHUB_RATE_LIMIT_ANONYMOUS", 60),
		Window:            getEnvDuration("IDEAHUB_RATE_LIMIT_WINDOW", time.Minute),
		TrustedProxies:    getEnvList("IDEAHUB_TRUSTED_PROXIES"),
	}
}

func loadTouchConfig() TouchConfig {
	return TouchConfig{
		Mode:     strings.ToLower(getEnv("IDEAHUB_TOUCH_MODE", TouchModeBatch)),
		Schedule: getEnv("IDEAHUB_TOUCH_SCHEDULE", "@every 30s"),
		Timeout:  getEnvDuration("IDEAHUB_TOUCH_TIMEOUT", 5*time.Second),
	}
}

func loadCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Queue:       strings.ToLower(getEnv("IDEAHUB_CAPTURE_QUEUE", "redis")),
		Concurrency: getEnvInt("IDEAHUB_CAPTURE_CONCURRENCY", 10),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("IDEAHUB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("IDEAHUB_METRICS_ENABLED", true),
		AuditToDatabase:    getEnvBool("IDEAHUB_AUDIT_DB", true),
		OTelEnabled:        getEnvBool("IDEAHUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("IDEAHUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("IDEAHUB_OTEL_SERVICE_NAME", "ideahub"),
		OTelServiceVersion: getEnv("IDEAHUB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("IDEAHUB_OTEL_INSECURE", true),
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

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}

	switch c.Touch.Mode {
	case TouchModeAsync, TouchModeBatch:
	default:
		return fmt.Errorf("invalid touch mode: %s (must be async or batch)", c.Touch.Mode)
	}

	switch c.Capture.Queue {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid capture queue: %s (must be redis or memory)", c.Capture.Queue)
	}
	if c.Capture.Queue == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the redis capture queue")
	}

	if c.RateLimit.Enabled && (c.RateLimit.PerKeyRequests <= 0 || c.RateLimit.AnonymousRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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

// getEnvList returns a comma-separated environment variable as a list
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
