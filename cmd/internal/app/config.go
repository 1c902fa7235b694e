package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig indicates invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains the runtime configuration loaded from COMMINQ_* variables.
// Component settings (tokens, passwords, limits, cookies) are loaded by their own packages.
type Config struct {
	Env       string `env:"COMMINQ_ENV"`
	HTTPAddr  string `env:"COMMINQ_HTTP_ADDR"`
	LogLevel  string `env:"COMMINQ_LOG_LEVEL"`
	LogFormat string `env:"COMMINQ_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `env:"COMMINQ_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `env:"COMMINQ_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"COMMINQ_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"COMMINQ_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"COMMINQ_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `env:"COMMINQ_HTTP_MAX_HEADER_BYTES"`

	DatabaseURL   string `env:"COMMINQ_DATABASE_URL"`
	DBMaxConns    int32  `env:"COMMINQ_DB_MAX_CONNS"`
	DBMinConns    int32  `env:"COMMINQ_DB_MIN_CONNS"`
	DBAutoMigrate bool   `env:"COMMINQ_DB_AUTO_MIGRATE"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"COMMINQ_READINESS_REQUIRE_DB"`

	RedisURL    string `env:"COMMINQ_REDIS_URL"`
	RedisPrefix string `env:"COMMINQ_REDIS_PREFIX"`

	// If true, COMMINQ_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool   `env:"COMMINQ_REQUIRE_TOKEN_HMAC"`
	TokenHMACKey     string `env:"COMMINQ_TOKEN_HMAC_KEY"`

	NotifyLogSecrets bool   `env:"COMMINQ_NOTIFY_LOG_SECRETS"`
	GooglePeopleURL  string `env:"COMMINQ_GOOGLE_PEOPLE_URL"`

	MetricsEnabled bool `env:"COMMINQ_METRICS_ENABLED"`

	CORSAllowedOrigins   []string `env:"COMMINQ_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"COMMINQ_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"COMMINQ_CORS_MAX_AGE_SECONDS"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Env:       "development",
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns:    10,
		DBAutoMigrate: true,

		MetricsEnabled: true,

		CORSMaxAgeSeconds: 600,
	}
}

// Production reports whether the runtime is deployed as production.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// LoadConfig loads the .env file for COMMINQ_ENV, then overlays the
// environment on DefaultConfig.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: COMMINQ_HTTP_ADDR is empty", ErrConfig)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 {
		return fmt.Errorf("%w: db connection limits must not be negative", ErrConfig)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: COMMINQ_DB_MIN_CONNS(%d) > COMMINQ_DB_MAX_CONNS(%d)", ErrConfig, c.DBMinConns, c.DBMaxConns)
	}
	if c.ReadinessRequireDB && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("%w: COMMINQ_READINESS_REQUIRE_DB needs COMMINQ_DATABASE_URL", ErrConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: COMMINQ_LOG_FORMAT must be json or pretty", ErrConfig)
	}
	return nil
}
