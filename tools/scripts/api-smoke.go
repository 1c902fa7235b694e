// Package main provides a CI-friendly HTTP smoke test for the Comminq account API.
//
// It validates:
//   - liveness and readiness probes
//   - register returns a session and sets the auth cookie
//   - duplicate registration is a 409
//   - login with the wrong password is a 401, the right one a 200
//   - an unverified profile read is a 403
//   - logout expires the cookie
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity/ids"
)

const (
	cookieName   = "comminq_auth_token"
	maxReadBytes = 1 << 20 // 1MiB
)

type session struct {
	Token   string `json:"token"`
	Account struct {
		ID       string `json:"id"`
		Verified bool   `json:"verified"`
	} `json:"account"`
}

type apiError struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

type smoke struct {
	base    string
	client  *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "API base URL")
		password = flag.String("password", "smoke-secret-1", "Password for the throwaway account")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}

	s.mustStatus(http.MethodGet, "/healthz", nil, "", http.StatusOK)
	s.mustStatus(http.MethodGet, "/readyz", nil, "", http.StatusOK)

	id, err := ids.New(time.Now().UTC())
	if err != nil {
		fatalf("ulid: %v", err)
	}
	email := "smoke+" + strings.ToLower(id) + "@example.com"
	reg := map[string]string{"name": "Smoke", "email": email, "password": *password}

	resp, body := s.do(http.MethodPost, "/api/user/register", reg, "")
	if resp.StatusCode != http.StatusCreated {
		fatalf("register: status=%d body=%s", resp.StatusCode, body)
	}
	var sess session
	if err := json.Unmarshal(body, &sess); err != nil {
		fatalf("register: decode: %v", err)
	}
	if sess.Token == "" || sess.Account.ID == "" || sess.Account.Verified {
		fatalf("register: unexpected session %s", body)
	}
	if !hasCookie(resp, cookieName, true) {
		fatalf("register: missing %s cookie", cookieName)
	}

	s.mustError(http.MethodPost, "/api/user/register", reg, "", http.StatusConflict, "email_taken")
	s.mustError(http.MethodPost, "/api/user/login", map[string]string{"email": email, "password": *password + "x"}, "", http.StatusUnauthorized, "unauthorized")
	s.mustStatus(http.MethodPost, "/api/user/login", map[string]string{"email": email, "password": *password}, "", http.StatusOK)
	s.mustError(http.MethodGet, "/api/user/profile", nil, sess.Token, http.StatusForbidden, "not_verified")

	resp, _ = s.do(http.MethodPost, "/api/user/logout", nil, "")
	if resp.StatusCode != http.StatusOK || !hasCookie(resp, cookieName, false) {
		fatalf("logout: status=%d, expected expired cookie", resp.StatusCode)
	}

	fmt.Printf("OK: account_id=%s email=%s\n", sess.Account.ID, email)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func (s *smoke) do(method, path string, payload any, bearer string) (*http.Response, []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("%s %s: marshal: %v", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if s.verbose {
		fmt.Printf("%s %s -> %d\n", method, path, resp.StatusCode)
	}
	return resp, b
}

func (s *smoke) mustStatus(method, path string, payload any, bearer string, want int) {
	resp, body := s.do(method, path, payload, bearer)
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, body)
	}
}

func (s *smoke) mustError(method, path string, payload any, bearer string, status int, code string) {
	resp, body := s.do(method, path, payload, bearer)
	if resp.StatusCode != status {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, status, body)
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		fatalf("%s %s: decode error: %v", method, path, err)
	}
	if e.Error.Code != code {
		fatalf("%s %s: code=%q want=%q", method, path, e.Error.Code, code)
	}
}

func hasCookie(resp *http.Response, name string, live bool) bool {
	for _, c := range resp.Cookies() {
		if c.Name != name {
			continue
		}
		if live {
			return c.Value != "" && c.MaxAge > 0
		}
		return c.MaxAge < 0
	}
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
