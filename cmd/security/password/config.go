package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes; longer passwords are rejected instead.
const maxInputBytes = 72

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"COMMINQ_PASSWORD_MIN_LEN"`
	MaxLength int `env:"COMMINQ_PASSWORD_MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"COMMINQ_PASSWORD_REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	// Cost is the bcrypt work factor.
	Cost int `env:"COMMINQ_BCRYPT_COST"`
	// MaxConcurrent bounds simultaneous hash/verify operations.
	MaxConcurrent int `env:"COMMINQ_HASH_MAX_CONCURRENT"`

	Policy Policy
}

// DefaultConfig returns the baseline: cost 10 and a 6 character minimum.
func DefaultConfig() Config {
	return Config{
		Cost:          10,
		MaxConcurrent: runtime.NumCPU(),
		Policy: Policy{
			MinLength:      6,
			MaxLength:      maxInputBytes,
			RejectVeryWeak: false,
		},
	}
}

// LoadConfigFromEnv overlays environment variables on DefaultConfig.
//
// Env surface:
//   - COMMINQ_BCRYPT_COST (4..31)
//   - COMMINQ_HASH_MAX_CONCURRENT
//   - COMMINQ_PASSWORD_MIN_LEN
//   - COMMINQ_PASSWORD_MAX_LEN (<= 72)
//   - COMMINQ_PASSWORD_REJECT_VERY_WEAK (true/false)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	if c.Cost < bcrypt.MinCost || c.Cost > bcrypt.MaxCost {
		return fmt.Errorf("%w: cost %d out of range [%d..%d]", ErrConfig, c.Cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: negative max concurrency", ErrConfig)
	}
	if c.Policy.MinLength < 1 {
		return fmt.Errorf("%w: min_len must be positive", ErrConfig)
	}
	if c.Policy.MaxLength > maxInputBytes {
		return fmt.Errorf("%w: max_len(%d) exceeds bcrypt limit %d", ErrConfig, c.Policy.MaxLength, maxInputBytes)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}
