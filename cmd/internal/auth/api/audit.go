package authapi

import (
	"net/http"
	"strings"
)

// audit records a security-relevant event with the caller's network identity.
// Attributes must never carry tokens, codes or credentials.
func (h *Handler) audit(r *http.Request, action, accountID string, attrs ...any) {
	if h == nil || h.log == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	args := make([]any, 0, 8+len(attrs))
	args = append(args, "action", action)
	if accountID != "" {
		args = append(args, "account_id", accountID)
	}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		args = append(args, "ip", ip.String())
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		args = append(args, "user_agent", ua)
	}
	args = append(args, attrs...)
	h.log.InfoContext(r.Context(), "auth.audit", args...)
}
