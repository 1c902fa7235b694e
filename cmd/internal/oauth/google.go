package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultGooglePeopleURL is the People API endpoint for the token holder.
const DefaultGooglePeopleURL = "https://people.googleapis.com/v1/people/me?personFields=emailAddresses,names,photos"

const maxProfileBytes = 1 << 20

// GoogleProvider reads the profile from the Google People API.
type GoogleProvider struct {
	endpoint string
	client   *http.Client
	policy   *bluemonday.Policy
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithEndpoint overrides the People API URL.
func WithEndpoint(url string) GoogleOption {
	return func(g *GoogleProvider) {
		if strings.TrimSpace(url) != "" {
			g.endpoint = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleProvider) {
		if c != nil {
			g.client = c
		}
	}
}

// NewGoogleProvider returns a provider with a 10s client timeout.
func NewGoogleProvider(opts ...GoogleOption) *GoogleProvider {
	g := &GoogleProvider{
		endpoint: DefaultGooglePeopleURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		policy:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

type peopleField struct {
	Metadata struct {
		Primary bool `json:"primary"`
	} `json:"metadata"`
	Value       string `json:"value"`
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
}

type peopleResponse struct {
	EmailAddresses []peopleField `json:"emailAddresses"`
	Names          []peopleField `json:"names"`
	Photos         []peopleField `json:"photos"`
}

// FetchProfile calls the People API with the bearer token.
func (g *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Profile{}, ErrProviderRejected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Profile{}, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return Profile{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Profile{}, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	var payload peopleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}

	email := strings.TrimSpace(pick(payload.EmailAddresses, func(f peopleField) string { return f.Value }))
	if email == "" {
		return Profile{}, fmt.Errorf("%w: profile has no email", ErrProviderRejected)
	}

	name := pick(payload.Names, func(f peopleField) string { return f.DisplayName })
	name = strings.TrimSpace(g.policy.Sanitize(name))
	if name == "" {
		name = email
	}

	return Profile{
		Email:       email,
		DisplayName: name,
		PictureURL:  strings.TrimSpace(pick(payload.Photos, func(f peopleField) string { return f.URL })),
	}, nil
}

// pick returns the primary entry's value, else the first non-empty one.
func pick(fields []peopleField, value func(peopleField) string) string {
	for _, f := range fields {
		if f.Metadata.Primary && value(f) != "" {
			return value(f)
		}
	}
	for _, f := range fields {
		if v := value(f); v != "" {
			return v
		}
	}
	return ""
}
