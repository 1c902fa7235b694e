package authapi

import (
	"errors"
	"net/http"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
)

type errorClass struct {
	status int
	code   string
	msg    string
}

// classes maps every sentinel kind to its HTTP rendering.
var classes = map[error]errorClass{
	identity.ErrInvalidInput:     {http.StatusBadRequest, "invalid_input", "invalid input"},
	identity.ErrUnauthorized:     {http.StatusUnauthorized, "unauthorized", "unauthorized"},
	identity.ErrSessionExpired:   {http.StatusUnauthorized, "session_expired", "session expired"},
	identity.ErrNotVerified:      {http.StatusForbidden, "not_verified", "email address is not verified"},
	identity.ErrNotFound:         {http.StatusNotFound, "not_found", "not found"},
	identity.ErrConflict:         {http.StatusConflict, "conflict", "conflict"},
	identity.ErrExpired:          {http.StatusGone, "token_expired", "token expired"},
	identity.ErrInvalidOrExpired: {http.StatusBadRequest, "invalid_or_expired_code", "code is invalid or expired"},
	identity.ErrRateLimited:      {http.StatusTooManyRequests, "rate_limited", "too many attempts, retry later"},
	identity.ErrInternal:         {http.StatusInternalServerError, "server_error", "internal error"},
}

func classify(err error) errorClass {
	kind := identity.KindOf(err)
	c, ok := classes[kind]
	if !ok {
		kind = identity.ErrInternal
		c = classes[kind]
	}
	if kind == identity.ErrInternal {
		return c
	}
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		c.msg = oe.Msg
	}
	return c
}

// fail renders err as the JSON error envelope. conflictCode, when set,
// replaces the generic "conflict" code so clients can tell conflicts apart.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error, conflictCode ...string) {
	c := classify(err)
	switch c.status {
	case http.StatusBadRequest:
		if fields := identity.FieldErrors(err); len(fields) > 0 {
			writeFieldErrors(w, fields)
			return
		}
	case http.StatusTooManyRequests:
		h.audit(r, event+".rate_limited", "", "retry_after_s", int64(identity.RetryAfter(err).Seconds()))
		writeRateLimited(w, identity.RetryAfter(err))
		return
	case http.StatusConflict:
		if len(conflictCode) > 0 && conflictCode[0] != "" {
			c.code = conflictCode[0]
		}
	case http.StatusInternalServerError:
		h.log.Error(event+".fail", "err", err, "path", r.URL.Path)
	}
	writeError(w, c.status, c.code, c.msg)
}
