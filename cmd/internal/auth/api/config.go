package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/caarlos0/env/v11"
)

// DefaultCookieName carries the session token for browser clients.
const DefaultCookieName = "comminq_auth_token"

// ErrConfig indicates invalid HTTP API configuration.
var ErrConfig = errors.New("authapi: invalid config")

// Config controls request limits and cookie token transport.
type Config struct {
	MaxBodyBytes int64 `env:"COMMINQ_API_MAX_BODY_BYTES"`
	TrustProxy   bool  `env:"COMMINQ_TRUST_PROXY"`

	CookieName     string `env:"COMMINQ_AUTH_COOKIE_NAME"`
	CookieDomain   string `env:"COMMINQ_AUTH_COOKIE_DOMAIN"`
	CookieSecure   bool   `env:"COMMINQ_AUTH_COOKIE_SECURE"`
	CookieSameSite string `env:"COMMINQ_AUTH_COOKIE_SAMESITE"`
}

// DefaultConfig returns safe defaults for local development.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20, // 1 MiB
		CookieName:     DefaultCookieName,
		CookieSameSite: "strict",
	}
}

// LoadConfigFromEnv overlays COMMINQ_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.CookieName = strings.TrimSpace(cfg.CookieName)
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("%w: COMMINQ_API_MAX_BODY_BYTES must be positive", ErrConfig)
	}
	// Browsers drop SameSite=None cookies without Secure.
	if parseSameSite(cfg.CookieSameSite) == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg, nil
}

func (c Config) sameSite() http.SameSite { return parseSameSite(c.CookieSameSite) }

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}
