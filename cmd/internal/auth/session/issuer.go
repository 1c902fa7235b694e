package session

import "time"

// Identity is what a session token asserts about its holder.
type Identity struct {
	AccountID string
	Email     string
	Verified  bool
}

// Claims is a verified token's payload.
type Claims struct {
	AccountID string
	Email     string
	Verified  bool
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer issues and verifies session tokens.
type Issuer interface {
	// Issue signs a token for id. ttl <= 0 uses the configured TTL.
	Issue(id Identity, ttl time.Duration, now time.Time) (token string, exp time.Time, err error)
	// Verify returns the claims, ErrTokenExpired or ErrTokenInvalid.
	Verify(token string, now time.Time) (Claims, error)
	// TTL is the configured default lifetime.
	TTL() time.Duration
}

// NewIssuer builds the Issuer selected by cfg.Format.
func NewIssuer(cfg Config) (Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case FormatPaseto:
		return NewPasetoIssuer(cfg)
	default:
		return NewJWTIssuer(cfg)
	}
}

func lifetime(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	return ttl
}
