// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Classifier ClassifierConfig
	Import     ImportConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Retention  RetentionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 120s;
	// commits of large batches respond slowly)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"120s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RedisConfig holds the classifier suggestion cache settings. An empty Addr
// disables the cache; the resolver then asks the classifier every time.
type RedisConfig struct {
	// Addr is the Redis host:port. Empty disables suggestion caching.
	Addr string `env:"REDIS_ADDR"`

	// Password authenticates against Redis if set.
	Password string `env:"REDIS_PASSWORD"`

	// DB selects the Redis logical database (default: 0)
	DB int `env:"REDIS_DB" default:"0"`

	// SuggestionTTL is how long cached classifier verdicts live (default: 168h)
	SuggestionTTL time.Duration `env:"REDIS_SUGGESTION_TTL" default:"168h"`
}

// ClassifierConfig holds the header classifier settings. An empty APIKey
// disables the classifier; column mapping then relies on the deterministic
// heuristics alone.
type ClassifierConfig struct {
	// APIKey authenticates against the OpenAI-compatible API. Empty disables
	// the classifier.
	APIKey string `env:"OPENAI_API_KEY" envAlt:"CLASSIFIER_API_KEY"`

	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string `env:"CLASSIFIER_BASE_URL"`

	// Model is the chat model used for header classification (default: gpt-4o-mini)
	Model string `env:"CLASSIFIER_MODEL" default:"gpt-4o-mini"`

	// Timeout is the per-request classifier timeout (default: 10s)
	Timeout time.Duration `env:"CLASSIFIER_TIMEOUT" default:"10s"`

	// Threshold is the minimum confidence for auto-confirming a suggested
	// mapping (default: 0.8)
	Threshold float64 `env:"CLASSIFIER_THRESHOLD" default:"0.8"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxRows caps the number of data rows per upload (default: 10000)
	MaxRows int `env:"IMPORT_MAX_ROWS" default:"10000"`

	// MaxConcurrent is the maximum number of parallel imports platform-wide (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// CommitWorkers bounds concurrent commit groups in flight (default: 4)
	CommitWorkers int `env:"IMPORT_COMMIT_WORKERS" default:"4"`

	// CommitGroup is the number of rows written per commit group (default: 25)
	CommitGroup int `env:"IMPORT_COMMIT_GROUP" default:"25"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables API key authentication on the API routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RetentionConfig holds retention sweeper settings.
type RetentionConfig struct {
	// BatchTTL is how long an untouched staging batch survives (default: 72h)
	BatchTTL time.Duration `env:"RETENTION_BATCH_TTL" default:"72h"`

	// AuditTTL is how long audit events are kept (default: 4320h, 180 days)
	AuditTTL time.Duration `env:"RETENTION_AUDIT_TTL" default:"4320h"`

	// CheckInterval is how often the sweeper runs (default: 1h)
	CheckInterval time.Duration `env:"RETENTION_CHECK_INTERVAL" default:"1h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
