package password

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// costHeadroom is how far above the configured cost a stored hash may be
// before Verify refuses to spend CPU on it.
const costHeadroom = 4

// Observer receives the duration of each bcrypt operation ("hash" or "verify").
type Observer func(op string, d time.Duration)

// Hasher hashes and verifies credentials. It is safe for concurrent use.
type Hasher struct {
	cfg     Config
	sem     *semaphore.Weighted
	observe Observer
	dummy   []byte
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithObserver reports operation durations (metrics).
func WithObserver(o Observer) Option {
	return func(h *Hasher) {
		if o != nil {
			h.observe = o
		}
	}
}

// New validates cfg and builds a Hasher.
func New(cfg Config, opts ...Option) (*Hasher, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}

	h := &Hasher{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant lookups of unknown accounts.
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing-only"), cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("password: dummy hash: %w", err)
	}
	h.dummy = dummy
	return h, nil
}

// Config returns the configuration the Hasher was built with.
func (h *Hasher) Config() Config { return h.cfg }

// Validate checks plain against the configured policy.
func (h *Hasher) Validate(plain string) error { return h.cfg.Validate(plain) }

// Hash validates plain and returns a salted bcrypt hash.
// Hashing the same input twice yields different outputs.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.cfg.Validate(plain); err != nil {
		return "", err
	}
	return h.hash(ctx, plain)
}

// HashUnchecked hashes plain without applying the policy.
// It is meant for server-generated credentials only.
func (h *Hasher) HashUnchecked(ctx context.Context, plain string) (string, error) {
	if len(plain) == 0 || len(plain) > maxInputBytes {
		return "", ErrPasswordTooLong
	}
	return h.hash(ctx, plain)
}

func (h *Hasher) hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	start := time.Now()
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cfg.Cost)
	h.observe("hash", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("password: hash: %w", err)
	}
	return string(out), nil
}

// Verify reports whether plain matches encoded.
// Malformed hashes, hashes with unreasonable cost, and cancelled contexts all report false.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) bool {
	ok, err := h.verify(ctx, plain, []byte(encoded))
	return err == nil && ok
}

// VerifyDummy spends the same work as a real Verify against a throwaway hash.
func (h *Hasher) VerifyDummy(ctx context.Context, plain string) {
	_, _ = h.verify(ctx, plain, h.dummy)
}

// NeedsRehash reports whether encoded was produced with a lower cost than configured.
func (h *Hasher) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false
	}
	return cost < h.cfg.Cost
}

func (h *Hasher) verify(ctx context.Context, plain string, encoded []byte) (bool, error) {
	cost, err := bcrypt.Cost(encoded)
	if err != nil {
		return false, ErrInvalidHash
	}
	if cost > h.cfg.Cost+costHeadroom {
		return false, ErrInvalidHash
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	start := time.Now()
	err = bcrypt.CompareHashAndPassword(encoded, []byte(plain))
	h.observe("verify", time.Since(start))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
