package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, cred Credential) (Token, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, cred Credential) (Token, error) {
	return f(ctx, cred)
}

// OAuthConfig describes a provider's OAuth token endpoint.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id" toml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret" toml:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url" toml:"token_url"`
	Scopes       []string `json:"scopes" yaml:"scopes" toml:"scopes"`
}

// OAuth2Refresher refreshes tokens with golang.org/x/oauth2, retrying
// transient endpoint failures with exponential backoff.
type OAuth2Refresher struct {
	configs    map[string]*oauth2.Config
	httpClient *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// OAuth2Option configures an OAuth2Refresher.
type OAuth2Option func(*OAuth2Refresher)

// WithHTTPClient sets the client used to reach token endpoints.
func WithHTTPClient(c *http.Client) OAuth2Option {
	return func(r *OAuth2Refresher) {
		r.httpClient = c
	}
}

// WithMaxRetries bounds retries of transient refresh failures.
func WithMaxRetries(n uint64) OAuth2Option {
	return func(r *OAuth2Refresher) {
		r.maxRetries = n
	}
}

// WithBackOff sets the retry schedule factory.
func WithBackOff(fn func() backoff.BackOff) OAuth2Option {
	return func(r *OAuth2Refresher) {
		r.newBackOff = fn
	}
}

// NewOAuth2Refresher creates a refresher for the given per-provider
// endpoints.
func NewOAuth2Refresher(endpoints map[string]OAuthConfig, opts ...OAuth2Option) *OAuth2Refresher {
	r := &OAuth2Refresher{
		configs:    make(map[string]*oauth2.Config, len(endpoints)),
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for providerID, ep := range endpoints {
		r.configs[providerID] = &oauth2.Config{
			ClientID:     ep.ClientID,
			ClientSecret: ep.ClientSecret,
			Scopes:       ep.Scopes,
			Endpoint:     oauth2.Endpoint{TokenURL: ep.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh implements Refresher.
func (r *OAuth2Refresher) Refresh(ctx context.Context, cred Credential) (Token, error) {
	if cred.RefreshToken == "" {
		return Token{}, ErrNoRefreshToken
	}
	cfg, ok := r.configs[cred.ProviderID]
	if !ok {
		return Token{}, fmt.Errorf("no oauth endpoint for provider %s", cred.ProviderID)
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	var tok *oauth2.Token
	op := func() error {
		// An already-expired seed token forces the source to hit the
		// token endpoint.
		seed := &oauth2.Token{RefreshToken: cred.RefreshToken, Expiry: time.Unix(1, 0)}
		t, err := cfg.TokenSource(ctx, seed).Token()
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		tok = t
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Token{}, fmt.Errorf("refresh %s token: %w", cred.ProviderID, err)
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
