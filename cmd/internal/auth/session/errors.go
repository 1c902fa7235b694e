package session

import "errors"

var (
	// ErrTokenInvalid is returned for malformed, tampered, wrongly signed or
	// foreign-issuer tokens.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned for authentic tokens presented at or after expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
