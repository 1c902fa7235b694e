// Package session issues and verifies the self-contained session tokens that
// authenticate account requests.
//
// Tokens carry the account id, email and verification flag, an issuer and an
// expiry. HS256 JWTs are the default format; PASETO v4.local is the alternate.
// Both sign with a single server secret that is loaded once at startup.
//
// Verification has three outcomes: valid claims, ErrTokenExpired, ErrTokenInvalid.
// A token is valid strictly before its expiry (plus configured clock skew).
package session
