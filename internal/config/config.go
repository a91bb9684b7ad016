// Package config provides centralized configuration management for the
// erpshell host. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server  ServerConfig
	Table   TableConfig
	Form    FormConfig
	Upload  UploadConfig
	Schema  SchemaConfig
	Session SessionConfig
	Rate    RateLimitConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are
	// believed (comma-separated, default: none)
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// TableConfig holds defaults for table screens.
type TableConfig struct {
	// PageSize is the rows per page when a screen does not set one (default: 10)
	PageSize int `env:"TABLE_PAGE_SIZE" default:"10"`
}

// FormConfig holds defaults for wizard screens.
type FormConfig struct {
	EnableAutoSave   bool          `env:"FORM_ENABLE_AUTOSAVE" default:"true"`
	AutoSaveInterval time.Duration `env:"FORM_AUTOSAVE_INTERVAL" default:"30s"`

	// UploadTick and UploadStep drive the simulated upload progress.
	UploadTick time.Duration `env:"FORM_UPLOAD_TICK" default:"200ms"`
	UploadStep int           `env:"FORM_UPLOAD_STEP" default:"10"`

	AllowStepSkipping      bool `env:"FORM_ALLOW_STEP_SKIPPING" default:"false"`
	TransitiveDependencies bool `env:"FORM_TRANSITIVE_DEPENDENCIES" default:"false"`
}

// UploadConfig limits simulated uploads across all sessions.
type UploadConfig struct {
	// MaxFileSize caps every file field regardless of its own constraints (default: 10MB)
	MaxFileSize int64 `env:"FORM_MAX_UPLOAD_SIZE" default:"10485760"`

	// MaxConcurrent is the maximum number of uploads in flight (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 5s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"5s"`
}

// SchemaConfig locates screen definitions.
type SchemaConfig struct {
	// Dir holds *.yaml screen files (default: schemas)
	Dir string `env:"SCHEMA_DIR" default:"schemas"`

	// Watch reloads the screens when files in Dir change (default: false)
	Watch bool `env:"SCHEMA_WATCH" default:"false"`
}

// SessionConfig controls per-client engine sessions.
type SessionConfig struct {
	TTL        time.Duration `env:"SESSION_TTL" default:"30m"`
	CookieName string        `env:"SESSION_COOKIE" default:"erpshell_session"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerSecond is the sustained rate per IP (default: 10)
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS" default:"10"`

	// Burst is the token bucket size per IP (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
