// Package token mints one-time secrets and hashes them for storage.
//
// Stored values are HMAC-SHA256(secret, key) hex digests when a key is
// configured, SHA-256 otherwise (development only). A stored digest can be
// matched against a presented secret but never turned back into it.
//
// Policy:
//   - With RequireHMAC, a key of at least MinKeyBytes is mandatory and the
//     SHA-256 fallback is disabled.
//   - Output is always a 64-char hex string.
package token
