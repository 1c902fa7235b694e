package account

import (
	"context"
	"errors"
	"strings"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/session"
)

// RegisterInput is a local sign-up request.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=1,max=64"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// Register creates an unverified account, starts its verification and
// returns a session for it. A taken email is ErrConflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ Session, err error) {
	const op = "account.Register"
	defer s.record(op, &err)

	in.Name = s.cleanName(in.Name)
	in.Email = strings.TrimSpace(in.Email)

	fields := s.fieldErrors(in)
	if in.Password != "" {
		fields = merge(fields, "password", s.passwordMessage(in.Password))
	}
	if err := invalid(op, fields); err != nil {
		return Session{}, err
	}

	hash, err := s.credentials.Hash(ctx, in.Password)
	if err != nil {
		return Session{}, identity.Internal(op, err)
	}

	now := s.clock()
	acct, err := s.store.Create(ctx, identity.CreateAccountInput{
		Email:          in.Email,
		Name:           in.Name,
		CredentialHash: hash,
		Now:            now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			return Session{}, identity.OpError{Op: op, Kind: identity.ErrConflict, Msg: "email is already registered", Err: err}
		}
		return Session{}, identity.Internal(op, err)
	}
	s.log.InfoContext(ctx, "account.register", "account_id", acct.ID)

	// The account exists either way; the holder can ask for a new link.
	if err := s.startVerification(ctx, acct, now); err != nil {
		s.log.ErrorContext(ctx, "account.verification.start.fail", "account_id", acct.ID, "err", err)
	}

	return s.issueSession(op, acct, now)
}

// Login checks a password and returns a session. Unknown email and wrong
// password are indistinguishable (ErrUnauthorized, same bcrypt work).
func (s *Service) Login(ctx context.Context, email, plain string) (_ Session, err error) {
	const op = "account.Login"
	defer s.record(op, &err)

	email = strings.TrimSpace(email)
	if fields := s.fieldErrors(struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}{email, plain}); fields != nil {
		return Session{}, invalid(op, fields)
	}

	key := limitKey("login", email)
	if err := s.throttle(ctx, op, key, s.cfg.Limits.Login); err != nil {
		return Session{}, err
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.credentials.VerifyDummy(ctx, plain)
			return Session{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid email or password"}
		}
		return Session{}, identity.Internal(op, err)
	}
	if !s.credentials.Verify(ctx, plain, acct.CredentialHash) {
		return Session{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid email or password"}
	}

	s.resetThrottle(ctx, key)
	now := s.clock()
	acct = s.upgradeCredential(ctx, acct, plain)
	return s.issueSession(op, acct, now)
}

// upgradeCredential re-hashes at the configured cost after a successful
// login. A successful login also supersedes any pending recovery code.
func (s *Service) upgradeCredential(ctx context.Context, acct identity.Account, plain string) identity.Account {
	if !s.credentials.NeedsRehash(acct.CredentialHash) {
		return acct
	}
	hash, err := s.credentials.HashUnchecked(ctx, plain)
	if err != nil {
		s.log.WarnContext(ctx, "account.rehash.fail", "account_id", acct.ID, "err", err)
		return acct
	}
	updated, err := s.store.ChangeCredential(ctx, acct.ID, acct.CredentialHash, hash, s.clock())
	if err != nil {
		s.log.WarnContext(ctx, "account.rehash.fail", "account_id", acct.ID, "err", err)
		return acct
	}
	return updated
}

// Authenticate resolves a session token to its live account.
// Expired tokens are ErrSessionExpired; anything else that fails is ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, tok string) (identity.Account, error) {
	const op = "account.Authenticate"

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "missing session token"}
	}

	claims, err := s.tokens.Verify(tok, s.clock())
	if err != nil {
		if errors.Is(err, session.ErrTokenExpired) {
			return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrSessionExpired, Msg: "session expired"}
		}
		return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid session token"}
	}

	acct, err := s.store.GetByID(ctx, claims.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Account{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "invalid session token"}
		}
		return identity.Account{}, identity.Internal(op, err)
	}
	return acct, nil
}
