// Package oauth fetches verified profiles from external identity providers.
//
// The account service trusts the provider's assertion of email ownership and
// reconciles the profile against local accounts; this package only speaks to
// the provider.
package oauth

import (
	"context"
	"errors"
)

var (
	// ErrProviderRejected means the provider refused the access token.
	ErrProviderRejected = errors.New("oauth: provider rejected token")
	// ErrProviderUnavailable means the provider could not be reached or answered garbage.
	ErrProviderUnavailable = errors.New("oauth: provider unavailable")
)

// Profile is an external identity as asserted by the provider.
type Profile struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	DisplayName string `json:"displayName" validate:"required,max=128"`
	PictureURL  string `json:"pictureUrl" validate:"omitempty,url,max=2048"`
}

// Provider exchanges a provider access token for the holder's profile.
type Provider interface {
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}
