package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// MinKeyBytes is the recommended minimum HMAC-SHA256 key size.
const MinKeyBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher turns one-time secrets into storage digests.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher from an explicit key.
//   - Empty key with requireHMAC -> ErrHMACKeyMissing.
//   - Non-empty key shorter than minBytes -> ErrHMACKeyTooShort.
//   - Empty key without requireHMAC -> SHA-256 fallback.
func NewHasher(key []byte, minBytes int, requireHMAC bool) (*Hasher, error) {
	k := []byte(strings.TrimSpace(string(key)))
	if len(k) == 0 {
		if requireHMAC {
			return nil, ErrHMACKeyMissing
		}
		return &Hasher{}, nil
	}
	if minBytes > 0 && len(k) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return &Hasher{key: k}, nil
}

// HMACEnabled reports whether digests are keyed.
func (h *Hasher) HMACEnabled() bool { return h != nil && len(h.key) > 0 }

// Hash returns the storage digest of secret.
func (h *Hasher) Hash(secret string) string {
	if !h.HMACEnabled() {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.key)
}

// HashScoped binds secret to scope (an email, an account id) before hashing,
// so equal secrets issued to different owners never share a digest.
func (h *Hasher) HashScoped(scope, secret string) string {
	return h.Hash(scope + ":" + secret)
}

// Equal compares two digests in constant time; empty values never match.
func Equal(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewNumericCode returns a code of exactly digits decimal digits, drawn
// uniformly from [10^(digits-1), 10^digits - 1]. Six digits yields [100000, 999999].
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 12 {
		return "", ErrInvalidDigits
	}
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	hi := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	span := new(big.Int).Sub(hi, lo)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("token: numeric code: %w", err)
	}
	return n.Add(n, lo).String(), nil
}
