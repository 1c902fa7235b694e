// Package notify delivers one-time secrets to account holders.
//
// Delivery is best effort: callers never roll back state when a send fails.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers verification links and recovery codes.
type Notifier interface {
	SendVerificationLink(ctx context.Context, email, link string) error
	SendRecoveryCode(ctx context.Context, email, code string) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) SendVerificationLink(context.Context, string, string) error { return nil }
func (Noop) SendRecoveryCode(context.Context, string, string) error     { return nil }

// LogNotifier writes notifications to a logger instead of a mail transport.
//
// The secret itself is logged only with LogSecrets set; use that for local
// development where no mailbox exists.
type LogNotifier struct {
	Log        *slog.Logger
	LogSecrets bool
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log == nil {
		return slog.Default()
	}
	return n.Log
}

func (n LogNotifier) SendVerificationLink(ctx context.Context, email, link string) error {
	attrs := []any{"email", email}
	if n.LogSecrets {
		attrs = append(attrs, "link", link)
	}
	n.logger().InfoContext(ctx, "notify.verification_link", attrs...)
	return nil
}

func (n LogNotifier) SendRecoveryCode(ctx context.Context, email, code string) error {
	attrs := []any{"email", email}
	if n.LogSecrets {
		attrs = append(attrs, "code", code)
	}
	n.logger().InfoContext(ctx, "notify.recovery_code", attrs...)
	return nil
}
