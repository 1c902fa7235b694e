package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/session"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/metrics"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/oauth"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/ratelimit"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/token"
)

const testBaseURL = "https://api.comminq.test"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type inbox struct {
	mu    sync.Mutex
	links map[string][]string
	codes map[string][]string
	err   error
}

func (b *inbox) SendVerificationLink(_ context.Context, email, link string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links[email] = append(b.links[email], link)
	return b.err
}

func (b *inbox) SendRecoveryCode(_ context.Context, email, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[email] = append(b.codes[email], code)
	return b.err
}

func (b *inbox) lastToken(t *testing.T, email string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	links := b.links[email]
	if len(links) == 0 {
		t.Fatalf("no verification link sent to %s", email)
	}
	link := links[len(links)-1]
	prefix := testBaseURL + verifyPath
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("unexpected link %q", link)
	}
	return strings.TrimPrefix(link, prefix)
}

func (b *inbox) lastCode(t *testing.T, email string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	codes := b.codes[email]
	if len(codes) == 0 {
		t.Fatalf("no recovery code sent to %s", email)
	}
	return codes[len(codes)-1]
}

type fakeProvider struct {
	profile oauth.Profile
	err     error
}

func (p fakeProvider) FetchProfile(context.Context, string) (oauth.Profile, error) {
	return p.profile, p.err
}

type fixture struct {
	svc     *Service
	store   *identity.MemoryStore
	inbox   *inbox
	clock   *clock
	metrics *metrics.Metrics
}

type fixtureOption func(*Config, *Deps)

func withProvider(p oauth.Provider) fixtureOption {
	return func(_ *Config, d *Deps) { d.Provider = p }
}

func withStore(st identity.Store) fixtureOption {
	return func(_ *Config, d *Deps) { d.Store = st }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	pcfg := password.DefaultConfig()
	pcfg.Cost = bcrypt.MinCost
	creds, err := password.New(pcfg)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}

	secrets, err := token.NewHasher([]byte(strings.Repeat("h", 32)), token.MinKeyBytes, true)
	if err != nil {
		t.Fatalf("token.NewHasher: %v", err)
	}

	scfg := session.DefaultConfig()
	scfg.Secret = strings.Repeat("s", session.MinSecretBytes)
	issuer, err := session.NewIssuer(scfg)
	if err != nil {
		t.Fatalf("session.NewIssuer: %v", err)
	}

	c := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:   identity.NewMemoryStore(),
		inbox:   &inbox{links: map[string][]string{}, codes: map[string][]string{}},
		clock:   c,
		metrics: metrics.New(false),
	}

	cfg := DefaultConfig()
	cfg.PublicBaseURL = testBaseURL
	deps := Deps{
		Store:       f.store,
		Credentials: creds,
		Secrets:     secrets,
		Tokens:      issuer,
		Notifier:    f.inbox,
		Limiter:     ratelimit.NewMemoryLimiter(c.Now),
		Metrics:     f.metrics,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         c.Now,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, email, pw string) Session {
	t.Helper()
	s, err := f.svc.Register(context.Background(), RegisterInput{Name: "Ada", Email: email, Password: pw})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return s
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if got := identity.KindOf(err); !errors.Is(got, kind) {
		t.Fatalf("expected kind %v, got %v (%v)", kind, got, err)
	}
}

func metricsOps(f *fixture, op, outcome string) prometheus.Counter {
	return f.metrics.Operations().WithLabelValues(op, outcome)
}
