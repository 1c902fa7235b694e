package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/internal/account"
)

// Accounts is the account workflow surface served over HTTP.
type Accounts interface {
	Register(ctx context.Context, in account.RegisterInput) (account.Session, error)
	Login(ctx context.Context, email, password string) (account.Session, error)
	LoginWithProvider(ctx context.Context, accessToken string) (account.Session, error)
	Authenticate(ctx context.Context, token string) (identity.Account, error)

	ResendVerification(ctx context.Context, email string) error
	ConsumeVerification(ctx context.Context, token string) (identity.Account, error)

	RequestReset(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
	ChangePasswordByCode(ctx context.Context, email, code, newPassword string) (identity.Account, error)
	ChangePassword(ctx context.Context, accountID, current, newPassword string) error

	Profile(ctx context.Context, accountID string) (identity.Account, error)
	ChangeEmail(ctx context.Context, accountID, email string) (identity.Account, error)
	UpdateName(ctx context.Context, accountID, name string) (identity.Account, error)
	Delete(ctx context.Context, accountID string) error

	TokenTTL() time.Duration
}

// Handler wires the /api/user endpoints to the account workflows.
type Handler struct {
	log *slog.Logger
	cfg Config
	svc Accounts
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger overrides slog.Default.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if h == nil || log == nil {
			return
		}
		h.log = log
	}
}

// NewHandler constructs a Handler over svc.
func NewHandler(svc Accounts, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil account service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultCookieName
	}

	h := &Handler{
		log: slog.Default(),
		cfg: cfg,
		svc: svc,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires the account routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/user/register", h.handleRegister)
	mux.HandleFunc("POST /api/user/login", h.handleLogin)
	mux.HandleFunc("POST /api/user/google-login", h.handleProviderLogin)
	mux.HandleFunc("POST /api/user/logout", h.handleLogout)

	mux.HandleFunc("GET /api/user/verify/{token}", h.handleVerify)
	mux.HandleFunc("POST /api/user/resend-verification", h.handleResendVerification)

	mux.HandleFunc("POST /api/user/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /api/user/verify-code", h.handleVerifyCode)
	mux.HandleFunc("POST /api/user/reset-password", h.handleResetPassword)

	mux.HandleFunc("GET /api/user/profile", h.handleProfile)
	mux.HandleFunc("PUT /api/user/password", h.handleChangePassword)
	mux.HandleFunc("PUT /api/user/email", h.handleChangeEmail)
	mux.HandleFunc("PUT /api/user/name", h.handleUpdateName)
	mux.HandleFunc("DELETE /api/user", h.handleDelete)
}

// ---- access ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.svc.Register(r.Context(), account.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, "auth.register", err, "email_taken")
		return
	}

	h.audit(r, "auth.register", sess.Account.ID)
	h.setAuthCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			h.audit(r, "auth.login.failed", "")
		}
		h.fail(w, r, "auth.login", err)
		return
	}

	h.audit(r, "auth.login.success", sess.Account.ID)
	h.setAuthCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	var req providerLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.svc.LoginWithProvider(r.Context(), req.AccessToken)
	if err != nil {
		h.fail(w, r, "auth.provider_login", err)
		return
	}

	h.audit(r, "auth.provider_login.success", sess.Account.ID, "provider", "google")
	h.setAuthCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleLogout only clears the cookie; bearer tokens expire on their own.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.audit(r, "auth.logout", "")
	h.expireAuthCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// ---- verification ----

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.ConsumeVerification(r.Context(), r.PathValue("token"))
	if err != nil {
		h.fail(w, r, "auth.verify", err)
		return
	}

	h.audit(r, "auth.verify", acct.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ResendVerification(r.Context(), req.Email); err != nil {
		h.fail(w, r, "auth.verify.resend", err, "already_verified")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification email sent"})
}

// ---- recovery ----

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.RequestReset(r.Context(), req.Email); err != nil {
		h.fail(w, r, "auth.reset.request", err)
		return
	}
	h.audit(r, "auth.reset.request", "")
	writeJSON(w, http.StatusOK, messageResponse{Message: "recovery code sent"})
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		h.fail(w, r, "auth.reset.verify_code", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "code verified"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.svc.ChangePasswordByCode(r.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		h.fail(w, r, "auth.reset.complete", err)
		return
	}

	h.audit(r, "auth.reset.complete", acct.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed"})
}

// ---- authenticated ----

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	acct, err := h.svc.Profile(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, r, "auth.profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), caller.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, "auth.password.change", err, "credential_changed")
		return
	}

	h.audit(r, "auth.password.change", caller.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed"})
}

func (h *Handler) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.svc.ChangeEmail(r.Context(), caller.ID, req.Email)
	if err != nil {
		h.fail(w, r, "auth.email.change", err, "email_taken")
		return
	}

	h.audit(r, "auth.email.change", caller.ID)
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) handleUpdateName(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.svc.UpdateName(r.Context(), caller.ID, req.Name)
	if err != nil {
		h.fail(w, r, "auth.name.update", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), caller.ID); err != nil {
		h.fail(w, r, "auth.delete", err)
		return
	}

	h.audit(r, "auth.delete", caller.ID)
	h.expireAuthCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "account deleted"})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (identity.Account, bool) {
	acct, err := h.svc.Authenticate(r.Context(), h.requestToken(r))
	if err != nil {
		h.fail(w, r, "auth.authenticate", err)
		return identity.Account{}, false
	}
	return acct, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	return true
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
