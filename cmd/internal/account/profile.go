package account

import (
	"context"
	"strings"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
)

// Profile returns the account if it is verified; unverified accounts get ErrNotVerified.
func (s *Service) Profile(ctx context.Context, accountID string) (identity.Account, error) {
	const op = "account.Profile"

	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}
	if !acct.Verified {
		return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrNotVerified, Msg: "email address is not verified"}
	}
	return acct, nil
}

// ChangeEmail moves the account to a new address, which must be verified
// again; a verification link is sent there. Re-submitting the current
// address (in any case) changes nothing.
func (s *Service) ChangeEmail(ctx context.Context, accountID, email string) (_ identity.Account, err error) {
	const op = "account.ChangeEmail"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	if err := s.requireEmail(op, email); err != nil {
		return identity.Account{}, err
	}

	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}
	if identity.NormalizeEmail(email) == acct.EmailNorm {
		return acct, nil
	}

	now := s.clock()
	acct, err = s.store.ChangeEmail(ctx, accountID, email, now)
	if err != nil {
		if identity.IsConflict(err) {
			return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "email is already registered", Err: err}
		}
		return identity.Account{}, identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.email.change", "account_id", acct.ID)

	if err := s.startVerification(ctx, acct, now); err != nil {
		s.log.ErrorContext(ctx, "account.verification.start.fail", "account_id", acct.ID, "err", err)
	}
	return acct, nil
}

// UpdateName sets the display name.
func (s *Service) UpdateName(ctx context.Context, accountID, name string) (_ identity.Account, err error) {
	const op = "account.UpdateName"
	defer s.record(op, &err)

	name = s.cleanName(name)
	if err := invalid(op, s.fieldErrors(struct {
		Name string `json:"name" validate:"required,min=1,max=64"`
	}{name})); err != nil {
		return identity.Account{}, err
	}

	acct, err := s.store.UpdateName(ctx, accountID, name, s.clock())
	if err != nil {
		return identity.Account{}, identity.Internal(op, err)
	}
	return acct, nil
}

// Delete removes the account; its outstanding token and code die with it.
func (s *Service) Delete(ctx context.Context, accountID string) (err error) {
	const op = "account.Delete"
	defer s.record(op, &err)

	if err := s.store.Delete(ctx, accountID); err != nil {
		return identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.delete", "account_id", accountID)
	return nil
}
