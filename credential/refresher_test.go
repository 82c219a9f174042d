package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		if n <= failures {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"server_error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestRefresher(url string) *OAuth2Refresher {
	return NewOAuth2Refresher(
		map[string]OAuthConfig{"gemini": {ClientID: "cid", TokenURL: url}},
		WithMaxRetries(2),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

func TestOAuth2RefresherExchanges(t *testing.T) {
	srv, calls := tokenServer(t, 0, 0)
	r := newTestRefresher(srv.URL)

	tok, err := r.Refresh(context.Background(), oauthCred(now))
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuth2RefresherRetriesServerErrors(t *testing.T) {
	srv, calls := tokenServer(t, 2, http.StatusBadGateway)
	r := newTestRefresher(srv.URL)

	tok, err := r.Refresh(context.Background(), oauthCred(now))
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOAuth2RefresherStopsOnClientErrors(t *testing.T) {
	srv, calls := tokenServer(t, 10, http.StatusBadRequest)
	r := newTestRefresher(srv.URL)

	_, err := r.Refresh(context.Background(), oauthCred(now))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuth2RefresherPreconditions(t *testing.T) {
	r := newTestRefresher("http://unused")

	c := oauthCred(now)
	c.RefreshToken = ""
	_, err := r.Refresh(context.Background(), c)
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	c = oauthCred(now)
	c.ProviderID = "unknown"
	_, err = r.Refresh(context.Background(), c)
	assert.Error(t, err)
}
