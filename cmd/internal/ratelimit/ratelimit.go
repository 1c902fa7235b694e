// Package ratelimit implements fixed-window attempt counters keyed by an
// arbitrary string (typically "<action>:<normalized email>").
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures. Callers decide whether to fail open.
var ErrUnavailable = errors.New("ratelimit: backend unavailable")

// Policy is Limit attempts per Window. A non-positive Limit disables limiting.
type Policy struct {
	Limit  int           `env:"LIMIT"`
	Window time.Duration `env:"WINDOW"`
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool { return p.Limit > 0 && p.Window > 0 }

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts.
type Limiter interface {
	// Allow records one attempt against key and reports whether it fits the policy.
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
	// Reset forgets all attempts against key.
	Reset(ctx context.Context, key string) error
}

// Nop allows everything.
type Nop struct{}

func (Nop) Allow(context.Context, string, Policy) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (Nop) Reset(context.Context, string) error { return nil }

func decide(count int64, p Policy, retry time.Duration) Decision {
	if count > int64(p.Limit) {
		if retry <= 0 {
			retry = p.Window
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}
	return Decision{Allowed: true, Remaining: p.Limit - int(count)}
}
