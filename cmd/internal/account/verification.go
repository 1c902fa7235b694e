package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
)

// RequestVerification mints a new verification token for the account owning
// email, replacing any previous one, and sends the link.
func (s *Service) RequestVerification(ctx context.Context, email string) (err error) {
	const op = "account.RequestVerification"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	if err := s.requireEmail(op, email); err != nil {
		return err
	}
	if err := s.throttle(ctx, op, limitKey("verify-mail", email), s.cfg.Limits.Verify); err != nil {
		return err
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return identity.Internal(op, err)
	}
	return identity.Internal(op, s.startVerification(ctx, acct, s.clock()))
}

// ResendVerification is RequestVerification for accounts that still need it;
// verified accounts get ErrConflict.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	const op = "account.ResendVerification"

	acct, err := s.store.GetByEmail(ctx, strings.TrimSpace(email))
	switch {
	case err == nil && acct.Verified:
		return identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "account is already verified"}
	case err != nil && !identity.IsNotFound(err):
		return identity.Internal(op, err)
	}
	return s.RequestVerification(ctx, email)
}

// startVerification stores a fresh token and notifies. Only the store write
// can fail the call.
func (s *Service) startVerification(ctx context.Context, acct identity.Account, now time.Time) error {
	raw := uuid.NewString()
	sec := identity.Secret{
		Hash:      s.secrets.Hash(raw),
		ExpiresAt: now.Add(s.cfg.VerificationTTL),
	}
	if err := s.store.SetVerificationToken(ctx, acct.ID, sec, now); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "account.verification.issue", "account_id", acct.ID)

	if err := s.notifier.SendVerificationLink(ctx, acct.Email, s.cfg.verificationLink(raw)); err != nil {
		s.log.ErrorContext(ctx, "account.verification.notify.fail", "account_id", acct.ID, "err", err)
	}
	return nil
}

// ConsumeVerification marks the token holder verified. Unknown tokens are
// ErrNotFound, tokens presented at or after expiry are ErrExpired. Consuming
// the same token again is harmless.
func (s *Service) ConsumeVerification(ctx context.Context, raw string) (_ identity.Account, err error) {
	const op = "account.ConsumeVerification"
	defer s.record(op, &err)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.Account{}, identity.NotFoundError{Op: op, Resource: "verification token"}
	}

	acct, err := s.store.ConsumeVerificationToken(ctx, s.secrets.Hash(raw), s.clock())
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.verification.consume", "account_id", acct.ID)
	return acct, nil
}

func (s *Service) requireEmail(op, email string) error {
	return invalid(op, s.fieldErrors(struct {
		Email string `json:"email" validate:"required,email,max=254"`
	}{email}))
}
