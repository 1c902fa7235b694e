package identity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
//   - Kind MUST be one of the sentinel kinds (ErrInvalidInput, ErrNotFound, ...).
//   - Msg is safe to show to the caller; it never contains secrets.
//   - Err is the underlying cause, kept for logs only.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(fmt.Sprint(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ConflictError reports a uniqueness/constraint conflict for a specific logical field.
// Field should be a stable logical name: "email", "credential", ...
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing account or a secret no account holds.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries human-readable messages keyed by input field.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, ErrInvalidInput)
	}
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvalidInput, strings.Join(names, ","))
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// RateLimitError reports a throttled operation and when it may be retried.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("%s: %v", e.Op, ErrRateLimited)
	}
	return fmt.Sprintf("%s: %v: retry after %s", e.Op, ErrRateLimited, e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns the delay carried by a RateLimitError, or zero.
func RetryAfter(err error) time.Duration {
	var rl RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Internal wraps an unexpected failure as ErrInternal for op.
// Already-classified errors are returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrInternal {
		return err
	}
	var oe OpError
	if errors.As(err, &oe) {
		return err
	}
	return OpError{Op: op, Kind: ErrInternal, Err: err}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// FieldErrors returns the per-field messages of a ValidationError, if any.
func FieldErrors(err error) map[string]string {
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
