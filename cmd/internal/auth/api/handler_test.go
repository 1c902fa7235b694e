package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/account"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/auth/session"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/metrics"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/oauth"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/ratelimit"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/token"
)

const testBaseURL = "https://api.comminq.test"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testInbox struct {
	mu    sync.Mutex
	links map[string]string
	codes map[string]string
}

func (b *testInbox) SendVerificationLink(_ context.Context, email, link string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links[email] = link
	return nil
}

func (b *testInbox) SendRecoveryCode(_ context.Context, email, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[email] = code
	return nil
}

// verifyPath returns the request path of the last verification link sent to email.
func (b *testInbox) verifyPath(t *testing.T, email string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok := b.links[email]
	if !ok {
		t.Fatalf("no verification link sent to %s", email)
	}
	return strings.TrimPrefix(link, testBaseURL)
}

func (b *testInbox) code(t *testing.T, email string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	code, ok := b.codes[email]
	if !ok {
		t.Fatalf("no recovery code sent to %s", email)
	}
	return code
}

type stubProvider struct {
	profile oauth.Profile
	err     error
}

func (p stubProvider) FetchProfile(context.Context, string) (oauth.Profile, error) {
	return p.profile, p.err
}

type testEnv struct {
	srv   *httptest.Server
	inbox *testInbox
	clock *testClock
}

func newTestEnv(t *testing.T, provider oauth.Provider) *testEnv {
	t.Helper()

	pcfg := password.DefaultConfig()
	pcfg.Cost = bcrypt.MinCost
	creds, err := password.New(pcfg)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	secrets, err := token.NewHasher([]byte(strings.Repeat("k", 32)), token.MinKeyBytes, true)
	if err != nil {
		t.Fatalf("token.NewHasher: %v", err)
	}
	scfg := session.DefaultConfig()
	scfg.Secret = strings.Repeat("s", session.MinSecretBytes)
	issuer, err := session.NewIssuer(scfg)
	if err != nil {
		t.Fatalf("session.NewIssuer: %v", err)
	}

	env := &testEnv{
		inbox: &testInbox{links: map[string]string{}, codes: map[string]string{}},
		clock: &testClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	acfg := account.DefaultConfig()
	acfg.PublicBaseURL = testBaseURL
	svc, err := account.New(acfg, account.Deps{
		Store:       identity.NewMemoryStore(),
		Credentials: creds,
		Secrets:     secrets,
		Tokens:      issuer,
		Notifier:    env.inbox,
		Limiter:     ratelimit.NewMemoryLimiter(env.clock.Now),
		Provider:    provider,
		Metrics:     metrics.New(false),
		Log:         log,
		Now:         env.clock.Now,
	})
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}

	h, err := NewHandler(svc, DefaultConfig(), WithLogger(log))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)
	return env
}

type result struct {
	status int
	body   []byte
	resp   *http.Response
}

func (r result) errorCode(t *testing.T) string {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(r.body, &er); err != nil {
		t.Fatalf("decode error body %q: %v", r.body, err)
	}
	return er.Error.Code
}

func (r result) cookie(name string) *http.Cookie {
	for _, c := range r.resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, body any, bearer string) result {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			rdr = strings.NewReader(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return result{status: resp.StatusCode, body: b, resp: resp}
}

func (e *testEnv) register(t *testing.T, email, pw string) sessionResponse {
	t.Helper()
	res := e.do(t, http.MethodPost, "/api/user/register", registerRequest{Name: "Ada", Email: email, Password: pw}, "")
	if res.status != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", res.status, res.body)
	}
	var out sessionResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out
}

func TestRegister_SetsCookieAndHidesSecrets(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodPost, "/api/user/register", registerRequest{Name: "Ada", Email: "Ada@Example.com", Password: "secret1"}, "")
	if res.status != http.StatusCreated {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}

	var out sessionResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Token == "" || out.Account.ID == "" || out.Account.Verified {
		t.Fatalf("unexpected session: %+v", out)
	}
	for _, leak := range []string{"$2a$", "$2b$", "credential"} {
		if bytes.Contains(res.body, []byte(leak)) {
			t.Fatalf("response leaks %q: %s", leak, res.body)
		}
	}

	c := res.cookie(DefaultCookieName)
	if c == nil {
		t.Fatalf("expected %s cookie", DefaultCookieName)
	}
	if c.Value != out.Token || !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected cookie: %+v", c)
	}
	if c.MaxAge != int(time.Hour/time.Second) {
		t.Fatalf("cookie MaxAge=%d", c.MaxAge)
	}
}

func TestRegister_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "ada@example.com", "secret1")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "taken email", body: registerRequest{Name: "B", Email: "ADA@example.com", Password: "secret2"}, status: http.StatusConflict, code: "email_taken"},
		{name: "invalid email", body: registerRequest{Name: "B", Email: "nope", Password: "secret2"}, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "unknown field", body: `{"name":"B","email":"b@x.com","password":"secret2","admin":true}`, status: http.StatusBadRequest, code: "invalid_json"},
		{name: "trailing data", body: `{"name":"B","email":"b@x.com","password":"secret2"}{}`, status: http.StatusBadRequest, code: "invalid_json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := env.do(t, http.MethodPost, "/api/user/register", tc.body, "")
			if res.status != tc.status {
				t.Fatalf("status=%d body=%s", res.status, res.body)
			}
			if got := res.errorCode(t); got != tc.code {
				t.Fatalf("code=%q, want %q", got, tc.code)
			}
		})
	}
}

func TestRegister_FieldErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodPost, "/api/user/register", registerRequest{Name: "", Email: "nope", Password: "1"}, "")
	if res.status != http.StatusBadRequest {
		t.Fatalf("status=%d", res.status)
	}
	var er errorResponse
	if err := json.Unmarshal(res.body, &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, f := range []string{"name", "email", "password"} {
		if er.Error.Fields[f] == "" {
			t.Fatalf("expected field error for %s, got %v", f, er.Error.Fields)
		}
	}
}

func TestLogin_NoEnumeration(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "ada@example.com", "secret1")

	unknown := env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "nobody@example.com", Password: "secret1"}, "")
	wrong := env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ada@example.com", Password: "wrong-pw"}, "")

	if unknown.status != http.StatusUnauthorized || wrong.status != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknown.status, wrong.status)
	}
	if !bytes.Equal(unknown.body, wrong.body) {
		t.Fatalf("login errors differ: %s vs %s", unknown.body, wrong.body)
	}

	ok := env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ADA@example.com", Password: "secret1"}, "")
	if ok.status != http.StatusOK {
		t.Fatalf("login status=%d body=%s", ok.status, ok.body)
	}
	if ok.cookie(DefaultCookieName) == nil {
		t.Fatalf("expected session cookie on login")
	}
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "ada@example.com", "secret1")

	limit := account.DefaultConfig().Limits.Login.Limit
	for i := 0; i < limit; i++ {
		res := env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ada@example.com", Password: "wrong-pw"}, "")
		if res.status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status=%d", i+1, res.status)
		}
	}

	res := env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ada@example.com", Password: "secret1"}, "")
	if res.status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", res.status, res.body)
	}
	if res.resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := res.errorCode(t); got != "rate_limited" {
		t.Fatalf("code=%q", got)
	}
}

func TestVerification_Flow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	sess := env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodGet, "/api/user/profile", nil, sess.Token)
	if res.status != http.StatusForbidden || res.errorCode(t) != "not_verified" {
		t.Fatalf("unverified profile: status=%d body=%s", res.status, res.body)
	}

	path := env.inbox.verifyPath(t, "ada@example.com")
	res = env.do(t, http.MethodGet, path, nil, "")
	if res.status != http.StatusOK {
		t.Fatalf("verify status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodGet, path, nil, "")
	if res.status != http.StatusNotFound {
		t.Fatalf("reused token: status=%d", res.status)
	}

	res = env.do(t, http.MethodGet, "/api/user/profile", nil, sess.Token)
	if res.status != http.StatusOK {
		t.Fatalf("profile status=%d body=%s", res.status, res.body)
	}
	var got accountResponse
	if err := json.Unmarshal(res.body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Verified || got.Email != "ada@example.com" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	res = env.do(t, http.MethodPost, "/api/user/resend-verification", emailRequest{Email: "ada@example.com"}, "")
	if res.status != http.StatusConflict || res.errorCode(t) != "already_verified" {
		t.Fatalf("resend verified: status=%d body=%s", res.status, res.body)
	}
}

func TestVerification_ExpiredToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "ada@example.com", "secret1")

	env.clock.Advance(account.DefaultConfig().VerificationTTL)
	res := env.do(t, http.MethodGet, env.inbox.verifyPath(t, "ada@example.com"), nil, "")
	if res.status != http.StatusGone || res.errorCode(t) != "token_expired" {
		t.Fatalf("expired verify: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodGet, "/api/user/verify/not-a-token", nil, "")
	if res.status != http.StatusNotFound {
		t.Fatalf("unknown token: status=%d", res.status)
	}
}

func TestRecovery_Flow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodPost, "/api/user/forgot-password", emailRequest{Email: "nobody@example.com"}, "")
	if res.status != http.StatusNotFound {
		t.Fatalf("unknown email: status=%d", res.status)
	}

	res = env.do(t, http.MethodPost, "/api/user/forgot-password", emailRequest{Email: "ada@example.com"}, "")
	if res.status != http.StatusOK {
		t.Fatalf("forgot status=%d body=%s", res.status, res.body)
	}
	code := env.inbox.code(t, "ada@example.com")
	if bytes.Contains(res.body, []byte(code)) {
		t.Fatalf("response echoes the recovery code")
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	res = env.do(t, http.MethodPost, "/api/user/verify-code", verifyCodeRequest{Email: "ada@example.com", Code: wrong}, "")
	if res.status != http.StatusBadRequest || res.errorCode(t) != "invalid_or_expired_code" {
		t.Fatalf("wrong code: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/api/user/verify-code", verifyCodeRequest{Email: "ada@example.com", Code: code}, "")
	if res.status != http.StatusOK {
		t.Fatalf("verify-code status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/api/user/reset-password", resetPasswordRequest{Email: "ada@example.com", Code: code, NewPassword: "new-secret"}, "")
	if res.status != http.StatusOK {
		t.Fatalf("reset status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/api/user/reset-password", resetPasswordRequest{Email: "ada@example.com", Code: code, NewPassword: "other-secret"}, "")
	if res.status != http.StatusNotFound {
		t.Fatalf("reused code: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ada@example.com", Password: "new-secret"}, "")
	if res.status != http.StatusOK {
		t.Fatalf("login with new password: status=%d", res.status)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	sess := env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodPut, "/api/user/password", changePasswordRequest{CurrentPassword: "nope-nope", NewPassword: "secret2"}, sess.Token)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("wrong current: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPut, "/api/user/password", changePasswordRequest{CurrentPassword: "secret1", NewPassword: "secret2"}, sess.Token)
	if res.status != http.StatusOK {
		t.Fatalf("change status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/api/user/login", loginRequest{Email: "ada@example.com", Password: "secret2"}, "")
	if res.status != http.StatusOK {
		t.Fatalf("login with changed password: status=%d", res.status)
	}
}

func TestChangeEmailAndName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.register(t, "taken@example.com", "secret1")
	sess := env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodPut, "/api/user/email", emailRequest{Email: "TAKEN@example.com"}, sess.Token)
	if res.status != http.StatusConflict || res.errorCode(t) != "email_taken" {
		t.Fatalf("taken email: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPut, "/api/user/email", emailRequest{Email: "ada.new@example.com"}, sess.Token)
	if res.status != http.StatusOK {
		t.Fatalf("change email: status=%d body=%s", res.status, res.body)
	}
	var acct accountResponse
	if err := json.Unmarshal(res.body, &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.Email != "ada.new@example.com" || acct.Verified {
		t.Fatalf("unexpected account: %+v", acct)
	}
	env.inbox.verifyPath(t, "ada.new@example.com")

	res = env.do(t, http.MethodPut, "/api/user/name", nameRequest{Name: "<i>Grace</i>"}, sess.Token)
	if res.status != http.StatusOK {
		t.Fatalf("update name: status=%d body=%s", res.status, res.body)
	}
	if err := json.Unmarshal(res.body, &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.Name != "Grace" {
		t.Fatalf("name=%q", acct.Name)
	}
}

func TestAuth_Transport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	sess := env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodGet, "/api/user/profile", nil, "")
	if res.status != http.StatusUnauthorized || res.errorCode(t) != "unauthorized" {
		t.Fatalf("missing token: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodGet, "/api/user/profile", nil, sess.Token+"x")
	if res.status != http.StatusUnauthorized {
		t.Fatalf("tampered token: status=%d", res.status)
	}

	// The cookie alone authenticates.
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/user/profile", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: sess.Token})
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cookie auth of unverified account: status=%d", resp.StatusCode)
	}

	env.clock.Advance(time.Hour)
	res = env.do(t, http.MethodGet, "/api/user/profile", nil, sess.Token)
	if res.status != http.StatusUnauthorized || res.errorCode(t) != "session_expired" {
		t.Fatalf("expired session: status=%d body=%s", res.status, res.body)
	}
}

func TestLogoutAndDelete_ExpireCookie(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	sess := env.register(t, "ada@example.com", "secret1")

	res := env.do(t, http.MethodPost, "/api/user/logout", nil, "")
	if res.status != http.StatusOK {
		t.Fatalf("logout status=%d", res.status)
	}
	if c := res.cookie(DefaultCookieName); c == nil || c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("expected expired cookie, got %+v", c)
	}

	res = env.do(t, http.MethodDelete, "/api/user", nil, sess.Token)
	if res.status != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", res.status, res.body)
	}
	if c := res.cookie(DefaultCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", c)
	}

	res = env.do(t, http.MethodGet, "/api/user/profile", nil, sess.Token)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("deleted account token: status=%d", res.status)
	}
}

func TestProviderLogin(t *testing.T) {
	t.Parallel()

	t.Run("creates verified account", func(t *testing.T) {
		env := newTestEnv(t, stubProvider{profile: oauth.Profile{Email: "g@example.com", DisplayName: "Gee"}})

		res := env.do(t, http.MethodPost, "/api/user/google-login", providerLoginRequest{AccessToken: "ya29.token"}, "")
		if res.status != http.StatusOK {
			t.Fatalf("status=%d body=%s", res.status, res.body)
		}
		var out sessionResponse
		if err := json.Unmarshal(res.body, &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !out.Account.Verified || out.Account.Email != "g@example.com" {
			t.Fatalf("unexpected account: %+v", out.Account)
		}
		if res.cookie(DefaultCookieName) == nil {
			t.Fatalf("expected session cookie")
		}

		prof := env.do(t, http.MethodGet, "/api/user/profile", nil, out.Token)
		if prof.status != http.StatusOK {
			t.Fatalf("profile status=%d", prof.status)
		}
	})

	t.Run("missing access token", func(t *testing.T) {
		env := newTestEnv(t, stubProvider{})
		res := env.do(t, http.MethodPost, "/api/user/google-login", providerLoginRequest{}, "")
		if res.status != http.StatusBadRequest {
			t.Fatalf("status=%d body=%s", res.status, res.body)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		env := newTestEnv(t, stubProvider{err: oauth.ErrProviderRejected})
		res := env.do(t, http.MethodPost, "/api/user/google-login", providerLoginRequest{AccessToken: "bad"}, "")
		if res.status != http.StatusUnauthorized {
			t.Fatalf("status=%d body=%s", res.status, res.body)
		}
	})

	t.Run("provider down", func(t *testing.T) {
		env := newTestEnv(t, stubProvider{err: oauth.ErrProviderUnavailable})
		res := env.do(t, http.MethodPost, "/api/user/google-login", providerLoginRequest{AccessToken: "ok"}, "")
		if res.status != http.StatusInternalServerError || res.errorCode(t) != "server_error" {
			t.Fatalf("status=%d body=%s", res.status, res.body)
		}
	})
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodGet, "/api/user/login", nil, "")
	if res.status != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", res.status)
	}
}

func TestNewHandler_RejectsNilService(t *testing.T) {
	t.Parallel()
	if _, err := NewHandler(nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil service")
	}
}
