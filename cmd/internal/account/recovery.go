package account

import (
	"context"
	"strings"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/token"
)

// RequestReset mints a 6-digit recovery code for the account owning email,
// replacing any previous one, and sends it.
func (s *Service) RequestReset(ctx context.Context, email string) (err error) {
	const op = "account.RequestReset"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	if err := s.requireEmail(op, email); err != nil {
		return err
	}
	if err := s.throttle(ctx, op, limitKey("reset", email), s.cfg.Limits.Reset); err != nil {
		return err
	}

	if _, err := s.store.GetByEmail(ctx, email); err != nil {
		return identity.Internal(op, err)
	}

	code, err := token.NewNumericCode(recoveryCodeDigits)
	if err != nil {
		return identity.Internal(op, err)
	}

	now := s.clock()
	norm := identity.NormalizeEmail(email)
	acct, err := s.store.SetRecoveryCode(ctx, norm, identity.Secret{
		Hash:      s.secrets.HashScoped(norm, code),
		ExpiresAt: now.Add(s.cfg.RecoveryTTL),
	}, now)
	if err != nil {
		return identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.reset.request", "account_id", acct.ID)

	if err := s.notifier.SendRecoveryCode(ctx, acct.Email, code); err != nil {
		s.log.ErrorContext(ctx, "account.reset.notify.fail", "account_id", acct.ID, "err", err)
	}
	return nil
}

// VerifyCode reports whether code is the live recovery code of email without
// consuming it. Every failure is ErrInvalidOrExpired.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (err error) {
	const op = "account.VerifyCode"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if err := s.throttle(ctx, op, limitKey("code", email), s.cfg.Limits.Code); err != nil {
		return err
	}

	rejected := identity.OpError{Op: op, Kind: identity.ErrInvalidOrExpired, Msg: "code is invalid or expired"}
	if !validCode(code) || identity.NormalizeEmail(email) == "" {
		return rejected
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return rejected
		}
		return identity.Internal(op, err)
	}
	if !acct.HasRecoveryCode(s.clock()) || !token.Equal(acct.RecoveryCodeHash, s.secrets.HashScoped(acct.EmailNorm, code)) {
		return rejected
	}
	return nil
}

// ChangePasswordByCode sets a new password if code is the live recovery code
// of email, consuming the code. Only one of several concurrent callers with
// the same code succeeds.
func (s *Service) ChangePasswordByCode(ctx context.Context, email, code, newPassword string) (_ identity.Account, err error) {
	const op = "account.ChangePasswordByCode"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	fields := s.fieldErrors(struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Code     string `json:"code" validate:"required"`
		Password string `json:"password" validate:"required"`
	}{email, code, newPassword})
	if newPassword != "" {
		fields = merge(fields, "password", s.passwordMessage(newPassword))
	}
	if err := invalid(op, fields); err != nil {
		return identity.Account{}, err
	}
	if err := s.throttle(ctx, op, limitKey("code", email), s.cfg.Limits.Code); err != nil {
		return identity.Account{}, err
	}
	if !validCode(code) {
		return identity.Account{}, identity.NotFoundError{Op: op, Resource: "recovery code"}
	}

	hash, err := s.credentials.Hash(ctx, newPassword)
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}

	norm := identity.NormalizeEmail(email)
	acct, err := s.store.ConsumeRecoveryCode(ctx, norm, s.secrets.HashScoped(norm, code), hash, s.clock())
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}

	s.resetThrottle(ctx, limitKey("login", email))
	s.log.InfoContext(ctx, "account.reset.complete", "account_id", acct.ID)
	return acct, nil
}

// ChangePassword rotates the credential of an authenticated account. The
// current password is required unless the account never had a local one.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, newPassword string) (err error) {
	const op = "account.ChangePassword"
	defer s.record(op, &err)

	fields := merge(nil, "newPassword", s.passwordMessage(newPassword))
	if newPassword == "" {
		fields = merge(fields, "newPassword", "is required")
	}

	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return identity.Internal(op, err)
	}
	if !acct.ExternalLinked {
		if current == "" {
			fields = merge(fields, "currentPassword", "is required")
		} else if current == newPassword {
			fields = merge(fields, "newPassword", "must differ from the current password")
		}
	}
	if err := invalid(op, fields); err != nil {
		return err
	}
	if !acct.ExternalLinked && !s.credentials.Verify(ctx, current, acct.CredentialHash) {
		return identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "current password is incorrect"}
	}

	hash, err := s.credentials.Hash(ctx, newPassword)
	if err != nil {
		return identity.Internal(op, err)
	}
	if _, err := s.store.ChangeCredential(ctx, acct.ID, acct.CredentialHash, hash, s.clock()); err != nil {
		if identity.IsConflict(err) {
			return identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "password was changed concurrently", Err: err}
		}
		return identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.password.change", "account_id", acct.ID)
	return nil
}

func validCode(code string) bool {
	if len(code) != recoveryCodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
