package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Format selects the session token encoding.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// MinSecretBytes is the minimum signing secret size.
const MinSecretBytes = 32

// Config defines all runtime configuration for session tokens.
type Config struct {
	Format Format `env:"COMMINQ_TOKEN_FORMAT"`

	// Issuer is the value set in the "iss" claim.
	Issuer string `env:"COMMINQ_TOKEN_ISSUER"`

	// TTL is the lifetime used when Issue is called without an explicit ttl.
	TTL time.Duration `env:"COMMINQ_TOKEN_TTL"`

	// ClockSkew extends validity past exp during verification.
	ClockSkew time.Duration `env:"COMMINQ_TOKEN_CLOCK_SKEW"`

	// Secret signs every token. Never logged.
	Secret string `env:"COMMINQ_JWT_SECRET,required"`
}

// DefaultConfig returns the defaults without a secret.
func DefaultConfig() Config {
	return Config{
		Format: FormatJWT,
		Issuer: "comminq",
		TTL:    time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - COMMINQ_JWT_SECRET (at least 32 bytes)
//
// Optional:
//   - COMMINQ_TOKEN_FORMAT (jwt|paseto)
//   - COMMINQ_TOKEN_ISSUER
//   - COMMINQ_TOKEN_TTL
//   - COMMINQ_TOKEN_CLOCK_SKEW
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the secret, durations and format.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.Secret)) < MinSecretBytes {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	}
	switch c.Format {
	case FormatJWT, FormatPaseto:
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.Format)
	}
	return nil
}
