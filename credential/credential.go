// Package credential manages per-provider credentials: rotating static API
// keys and OAuth token pairs that are refreshed before they expire.
//
// Refresh is split into pure steps (NeedsRefresh, ApplyToken) and side
// effects (a Refresher that talks to the token endpoint, a Persistence
// that stores the result), so expiry handling can be tested without real
// clocks or endpoints.
package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Credential errors.
var (
	// ErrNoCredentials indicates no usable credential exists for a provider.
	ErrNoCredentials = errors.New("no usable credentials")

	// ErrAuthentication indicates a credential is invalid or could not be
	// refreshed.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound indicates persistence holds no credential for a provider.
	ErrNotFound = errors.New("credential not found")

	// ErrInvalid indicates a credential is missing required fields.
	ErrInvalid = errors.New("invalid credential")

	// ErrNoRefreshToken indicates an OAuth credential cannot be refreshed.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// DefaultRefreshBuffer is how close to expiry a token is refreshed.
const DefaultRefreshBuffer = 5 * time.Minute

// Method identifies how a credential authenticates.
type Method string

// Supported methods.
const (
	MethodStaticKey Method = "static_key"
	MethodOAuth     Method = "oauth"
)

// Credential is one authentication unit for one provider.
type Credential struct {
	// ID uniquely identifies the credential within the store.
	ID string `json:"id"`

	// ProviderID is the provider this credential authenticates against.
	ProviderID string `json:"providerId"`

	// Method is static_key or oauth.
	Method Method `json:"method"`

	// Secret is the API key or OAuth access token.
	Secret string `json:"secret"`

	// RefreshToken is set for OAuth credentials that can be refreshed.
	RefreshToken string `json:"refreshToken,omitempty"`

	// Expiry is when the access token expires. Nil for static keys.
	Expiry *time.Time `json:"expiry,omitempty"`

	// Scopes are the OAuth scopes granted to this token.
	Scopes []string `json:"scopes,omitempty"`
}

// Validate checks that the credential has required fields.
func (c Credential) Validate() error {
	if c.ProviderID == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalid)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: missing secret", ErrInvalid)
	}
	switch c.Method {
	case MethodStaticKey, MethodOAuth:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalid, c.Method)
	}
	return nil
}

// IsOAuth reports whether this is an OAuth credential.
func (c Credential) IsOAuth() bool {
	return c.Method == MethodOAuth
}

// ExpiresIn returns the time left until expiry at now.
// Static keys never expire and report a very large duration.
func (c Credential) ExpiresIn(now time.Time) time.Duration {
	if c.Expiry == nil {
		return time.Duration(1<<63 - 1)
	}
	return c.Expiry.Sub(now)
}

// String redacts the secret so a credential never leaks into logs.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{id=%s provider=%s method=%s secret=****}", c.ID, c.ProviderID, c.Method)
}

// LogValue implements slog.LogValuer with the secret redacted.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("provider", c.ProviderID),
		slog.String("method", string(c.Method)),
	)
}

// Token is the result of an OAuth token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// NeedsRefresh reports whether c is an OAuth credential whose expiry is
// within buffer of now. Pure.
func NeedsRefresh(c Credential, now time.Time, buffer time.Duration) bool {
	if !c.IsOAuth() || c.Expiry == nil {
		return false
	}
	return c.Expiry.Sub(now) <= buffer
}

// ApplyToken returns old updated with a freshly exchanged token. A token
// without a refresh token keeps the old one; a token without expiry gets
// one hour from now. Pure.
func ApplyToken(old Credential, tok Token, now time.Time) Credential {
	next := old
	next.Scopes = append([]string(nil), old.Scopes...)
	next.Secret = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(time.Hour)
	}
	next.Expiry = &expiry
	return next
}
