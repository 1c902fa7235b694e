package app

import (
	"errors"
	"fmt"

	"github.com/walid-hamdi/Comminq-backend/cmd/security/token"
)

// newSecretHasher builds the keyed hasher for one-time secrets and enforces
// the HMAC policy at startup. Production always requires HMAC.
func newSecretHasher(cfg Config) (*token.Hasher, error) {
	require := cfg.RequireTokenHMAC || cfg.Production()

	h, err := token.NewHasher([]byte(cfg.TokenHMACKey), token.MinKeyBytes, require)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return nil, fmt.Errorf("security policy: HMAC required but COMMINQ_TOKEN_HMAC_KEY is missing: %w", err)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return nil, fmt.Errorf("security policy: COMMINQ_TOKEN_HMAC_KEY is too short (min %d bytes): %w", token.MinKeyBytes, err)
		default:
			return nil, err
		}
	}

	if require && !h.HMACEnabled() {
		return nil, errors.New("security policy: HMAC required but secret hasher is not in HMAC mode")
	}
	return h, nil
}
