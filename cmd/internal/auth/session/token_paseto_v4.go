package session

import (
	"crypto/sha256"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4LocalIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	key paseto.V4SymmetricKey
}

// NewPasetoIssuer builds an Issuer based on PASETO v4.local.
//
// The 32-byte symmetric key is SHA-256(secret). Expiry is checked explicitly
// after decryption so an expired token is reported as ErrTokenExpired rather
// than a generic parse failure.
func NewPasetoIssuer(cfg Config) (Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(cfg.Secret))
	key, err := paseto.V4SymmetricKeyFromBytes(sum[:])
	if err != nil {
		return nil, ErrConfig
	}
	return &pasetoV4LocalIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		key:       key,
	}, nil
}

func (m *pasetoV4LocalIssuer) TTL() time.Duration { return m.ttl }

func (m *pasetoV4LocalIssuer) Issue(id Identity, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if id.AccountID == "" {
		return "", time.Time{}, ErrTokenInvalid
	}
	// RFC 3339 claims carry whole seconds.
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(lifetime(ttl, m.ttl)).Truncate(time.Second)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(id.AccountID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("email", id.Email)
	_ = tok.Set("verified", id.Verified)

	return tok.V4Encrypt(m.key, nil), exp, nil
}

func (m *pasetoV4LocalIssuer) Verify(token string, now time.Time) (Claims, error) {
	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Local(m.key, token, nil)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if !now.Before(exp.Add(m.clockSkew)) {
		return Claims{}, ErrTokenExpired
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && now.Add(m.clockSkew).Before(nbf) {
		return Claims{}, ErrTokenInvalid
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrTokenInvalid
	}
	email, err := parsed.GetString("email")
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	var verified bool
	if err := parsed.Get("verified", &verified); err != nil {
		return Claims{}, ErrTokenInvalid
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		AccountID: sub,
		Email:     email,
		Verified:  verified,
		Issuer:    iss,
		IssuedAt:  iat.UTC(),
		ExpiresAt: exp.UTC(),
	}, nil
}
