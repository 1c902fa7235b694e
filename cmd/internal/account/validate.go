package account

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity"
	"github.com/walid-hamdi/Comminq-backend/cmd/security/password"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors runs struct tags and returns messages keyed by json field name.
func (s *Service) fieldErrors(in any) map[string]string {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	out := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		out["_"] = "is invalid"
		return out
	}
	for _, fe := range ve {
		if _, seen := out[fe.Field()]; !seen {
			out[fe.Field()] = describe(fe)
		}
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

// passwordMessage maps a policy violation to a field message; "" means the password is acceptable.
func (s *Service) passwordMessage(plain string) string {
	pol := s.credentials.Config().Policy
	switch err := s.credentials.Validate(plain); {
	case err == nil:
		return ""
	case errors.Is(err, password.ErrPasswordTooShort):
		return fmt.Sprintf("must be at least %d characters", pol.MinLength)
	case errors.Is(err, password.ErrPasswordTooLong):
		return fmt.Sprintf("must be at most %d characters", pol.MaxLength)
	case errors.Is(err, password.ErrWeakPassword):
		return "is too weak"
	default:
		return "is invalid"
	}
}

func invalid(op string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return identity.ValidationError{Op: op, Fields: fields}
}

func merge(dst map[string]string, field, msg string) map[string]string {
	if msg == "" {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string)
	}
	if _, ok := dst[field]; !ok {
		dst[field] = msg
	}
	return dst
}
