package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrNotFound         = errors.New("not_found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSessionExpired   = errors.New("session_expired")
	ErrNotVerified      = errors.New("not_verified")
	ErrConflict         = errors.New("conflict")
	ErrExpired          = errors.New("expired")
	ErrInvalidOrExpired = errors.New("invalid_or_expired")
	ErrRateLimited      = errors.New("rate_limited")
	ErrInternal         = errors.New("internal")
)

// kinds is ordered from most to least specific for KindOf.
var kinds = []error{
	ErrInvalidInput,
	ErrNotFound,
	ErrUnauthorized,
	ErrSessionExpired,
	ErrNotVerified,
	ErrConflict,
	ErrExpired,
	ErrInvalidOrExpired,
	ErrRateLimited,
	ErrInternal,
}

// KindOf returns the sentinel kind carried by err.
// The outermost OpError wins; unknown errors are reported as ErrInternal.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var oe OpError
	if errors.As(err, &oe) && oe.Kind != nil {
		return oe.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
