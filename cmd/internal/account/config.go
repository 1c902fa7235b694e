package account

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/walid-hamdi/Comminq-backend/cmd/internal/ratelimit"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid account config")

const (
	recoveryCodeDigits    = 6
	externalCredentialLen = 32
	verifyPath            = "/api/user/verify/"
)

// Limits are the per-email throttles of each workflow.
type Limits struct {
	Login  ratelimit.Policy `envPrefix:"COMMINQ_LIMIT_LOGIN_"`
	Verify ratelimit.Policy `envPrefix:"COMMINQ_LIMIT_VERIFY_MAIL_"`
	Reset  ratelimit.Policy `envPrefix:"COMMINQ_LIMIT_RESET_"`
	Code   ratelimit.Policy `envPrefix:"COMMINQ_LIMIT_CODE_"`
}

// Config controls secret lifetimes, link building and throttles.
type Config struct {
	VerificationTTL time.Duration `env:"COMMINQ_VERIFICATION_TTL"`
	RecoveryTTL     time.Duration `env:"COMMINQ_RECOVERY_TTL"`

	// PublicBaseURL prefixes verification links, e.g. "https://api.comminq.app".
	PublicBaseURL string `env:"COMMINQ_PUBLIC_BASE_URL"`

	Limits Limits
}

// DefaultConfig returns 24h verification tokens and 10m recovery codes.
func DefaultConfig() Config {
	return Config{
		VerificationTTL: 24 * time.Hour,
		RecoveryTTL:     10 * time.Minute,
		PublicBaseURL:   "http://localhost:8080",
		Limits: Limits{
			Login:  ratelimit.Policy{Limit: 10, Window: 15 * time.Minute},
			Verify: ratelimit.Policy{Limit: 5, Window: 15 * time.Minute},
			Reset:  ratelimit.Policy{Limit: 5, Window: 15 * time.Minute},
			Code:   ratelimit.Policy{Limit: 10, Window: 10 * time.Minute},
		},
	}
}

// LoadConfigFromEnv overlays environment variables on DefaultConfig.
//
// Env surface:
//   - COMMINQ_VERIFICATION_TTL, COMMINQ_RECOVERY_TTL
//   - COMMINQ_PUBLIC_BASE_URL
//   - COMMINQ_LIMIT_{LOGIN,VERIFY_MAIL,RESET,CODE}_{LIMIT,WINDOW}
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

// Validate checks lifetimes and the base URL.
func (c Config) Validate() error {
	if c.VerificationTTL <= 0 || c.RecoveryTTL <= 0 {
		return fmt.Errorf("%w: secret lifetimes must be positive", ErrConfig)
	}
	u, err := url.Parse(strings.TrimSpace(c.PublicBaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: public base url must be an absolute http(s) url", ErrConfig)
	}
	return nil
}

func (c Config) verificationLink(token string) string {
	return strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/") + verifyPath + url.PathEscape(token)
}
