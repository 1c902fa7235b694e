package account

import (
	"context"
	"errors"
	"strings"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/oauth"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
)

// ReconcileExternal links a provider-verified profile to a local account and
// returns a session. A new email creates a verified, externally linked
// account with a random credential nobody knows; an existing account is
// reused untouched.
func (s *Service) ReconcileExternal(ctx context.Context, p oauth.Profile) (_ Session, err error) {
	const op = "account.ReconcileExternal"
	defer s.record(op, &err)

	p.Email = strings.TrimSpace(p.Email)
	p.DisplayName = s.cleanName(p.DisplayName)
	p.PictureURL = strings.TrimSpace(p.PictureURL)
	if err := invalid(op, s.fieldErrors(p)); err != nil {
		return Session{}, err
	}

	now := s.clock()
	acct, err := s.store.GetByEmail(ctx, p.Email)
	switch {
	case err == nil:
		return s.issueSession(op, acct, now)
	case !identity.IsNotFound(err):
		return Session{}, identity.Internal(op, err)
	}

	secret, err := password.Random(externalCredentialLen)
	if err != nil {
		return Session{}, identity.Internal(op, err)
	}
	hash, err := s.credentials.HashUnchecked(ctx, secret)
	if err != nil {
		return Session{}, identity.Internal(op, err)
	}

	// A concurrent reconcile or register may have won the email meanwhile;
	// CreateIfAbsent then returns that account.
	acct, created, err := s.store.CreateIfAbsent(ctx, identity.CreateAccountInput{
		Email:          p.Email,
		Name:           p.DisplayName,
		Picture:        p.PictureURL,
		CredentialHash: hash,
		Verified:       true,
		ExternalLinked: true,
		Now:            now,
	})
	if err != nil {
		return Session{}, identity.Internal(op, err)
	}
	if created {
		s.log.InfoContext(ctx, "account.external.create", "account_id", acct.ID)
	}
	return s.issueSession(op, acct, now)
}

// LoginWithProvider fetches the profile behind a provider access token and
// reconciles it. A rejected token is ErrUnauthorized.
func (s *Service) LoginWithProvider(ctx context.Context, accessToken string) (Session, error) {
	const op = "account.LoginWithProvider"

	if s.provider == nil {
		return Session{}, identity.OpError{Op: op, Kind: identity.ErrInternal, Msg: "external login is not configured"}
	}
	if strings.TrimSpace(accessToken) == "" {
		return Session{}, identity.ValidationError{Op: op, Fields: map[string]string{"accessToken": "is required"}}
	}

	profile, err := s.provider.FetchProfile(ctx, accessToken)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderRejected) {
			return Session{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "provider rejected the access token", Err: err}
		}
		s.log.ErrorContext(ctx, "account.external.provider.fail", "err", err)
		return Session{}, identity.OpError{Op: op, Kind: identity.ErrInternal, Msg: "provider unavailable", Err: err}
	}
	return s.ReconcileExternal(ctx, profile)
}
