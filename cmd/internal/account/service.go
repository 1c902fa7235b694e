package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/session"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/metrics"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/notify"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/oauth"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/ratelimit"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/token"
)

// Credentials hashes and verifies passwords (password.Hasher).
type Credentials interface {
	Config() password.Config
	Validate(plain string) error
	Hash(ctx context.Context, plain string) (string, error)
	HashUnchecked(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, encoded string) bool
	VerifyDummy(ctx context.Context, plain string)
	NeedsRehash(encoded string) bool
}

// Deps are the collaborators of a Service. Store, Credentials, Secrets and
// Tokens are required; the rest default to no-ops.
type Deps struct {
	Store       identity.Store
	Credentials Credentials
	Secrets     *token.Hasher
	Tokens      session.Issuer

	Notifier notify.Notifier
	Limiter  ratelimit.Limiter
	Provider oauth.Provider
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

// Session is an issued session token and the account it was issued for.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   identity.Account
}

// Service runs the account workflows. It is safe for concurrent use.
type Service struct {
	cfg Config

	store       identity.Store
	credentials Credentials
	secrets     *token.Hasher
	tokens      session.Issuer
	notifier    notify.Notifier
	limiter     ratelimit.Limiter
	provider    oauth.Provider
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	validate *validator.Validate
	sanitize *bluemonday.Policy
}

// New validates cfg and the required dependencies.
func New(cfg Config, d Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case d.Store == nil:
		return nil, errors.New("account: nil store")
	case d.Credentials == nil:
		return nil, errors.New("account: nil credentials hasher")
	case d.Secrets == nil:
		return nil, errors.New("account: nil secret hasher")
	case d.Tokens == nil:
		return nil, errors.New("account: nil token issuer")
	}

	s := &Service{
		cfg:         cfg,
		store:       d.Store,
		credentials: d.Credentials,
		secrets:     d.Secrets,
		tokens:      d.Tokens,
		notifier:    d.Notifier,
		limiter:     d.Limiter,
		provider:    d.Provider,
		metrics:     d.Metrics,
		log:         d.Log,
		now:         d.Now,
		validate:    newValidator(),
		sanitize:    bluemonday.StrictPolicy(),
	}
	if s.notifier == nil {
		s.notifier = notify.Noop{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// TokenTTL is the lifetime of issued session tokens.
func (s *Service) TokenTTL() time.Duration { return s.tokens.TTL() }

func (s *Service) clock() time.Time { return s.now().UTC() }

// record counts the outcome of op and logs unexpected failures.
func (s *Service) record(op string, errp *error) {
	err := *errp
	switch {
	case err == nil:
		s.metrics.Operation(op, metrics.OutcomeOK)
	case errors.Is(err, identity.ErrRateLimited):
		s.metrics.Operation(op, metrics.OutcomeLimited)
	default:
		s.metrics.Operation(op, metrics.OutcomeError)
		if identity.KindOf(err) == identity.ErrInternal {
			s.log.Error("account.op.fail", "op", op, "err", err)
		}
	}
}

// throttle charges one attempt against key. Backend failures allow the attempt.
func (s *Service) throttle(ctx context.Context, op, key string, p ratelimit.Policy) error {
	d, err := s.limiter.Allow(ctx, key, p)
	if err != nil {
		s.metrics.LimiterError()
		s.log.Warn("account.ratelimit.unavailable", "op", op, "err", err)
		return nil
	}
	if !d.Allowed {
		return identity.RateLimitError{Op: op, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *Service) resetThrottle(ctx context.Context, key string) {
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warn("account.ratelimit.reset.fail", "err", err)
	}
}

func limitKey(action, email string) string {
	return action + ":" + identity.NormalizeEmail(email)
}

func (s *Service) issueSession(op string, a identity.Account, now time.Time) (Session, error) {
	tok, exp, err := s.tokens.Issue(session.Identity{
		AccountID: a.ID,
		Email:     a.Email,
		Verified:  a.Verified,
	}, 0, now)
	if err != nil {
		return Session{}, identity.Internal(op, err)
	}
	return Session{Token: tok, ExpiresAt: exp, Account: a}, nil
}

func (s *Service) cleanName(name string) string {
	return strings.TrimSpace(s.sanitize.Sanitize(strings.TrimSpace(name)))
}
