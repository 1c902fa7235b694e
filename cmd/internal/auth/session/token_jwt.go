package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

type jwtIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTIssuer builds an HS256 JWT Issuer.
//
// Only HS256 is accepted on verify; issuer and exp are mandatory.
func NewJWTIssuer(cfg Config) (Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &jwtIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.Secret),
	}, nil
}

func (m *jwtIssuer) TTL() time.Duration { return m.ttl }

func (m *jwtIssuer) Issue(id Identity, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if id.AccountID == "" {
		return "", time.Time{}, ErrTokenInvalid
	}
	now = now.UTC()
	exp := now.Add(lifetime(ttl, m.ttl))

	claims := jwtClaims{
		Email:    id.Email,
		Verified: id.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; report what the token actually carries.
	return signed, claims.ExpiresAt.Time.UTC(), nil
}

func (m *jwtIssuer) Verify(token string, now time.Time) (Claims, error) {
	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}

	out := Claims{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Verified:  claims.Verified,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}
