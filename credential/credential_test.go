package credential

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestNeedsRefresh(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"static key", Credential{Method: MethodStaticKey}, false},
		{"oauth without expiry", Credential{Method: MethodOAuth}, false},
		{"far from expiry", Credential{Method: MethodOAuth, Expiry: ptr(now.Add(time.Hour))}, false},
		{"inside buffer", Credential{Method: MethodOAuth, Expiry: ptr(now.Add(4 * time.Minute))}, true},
		{"exactly at buffer", Credential{Method: MethodOAuth, Expiry: ptr(now.Add(5 * time.Minute))}, true},
		{"expired", Credential{Method: MethodOAuth, Expiry: ptr(now.Add(-time.Minute))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRefresh(tt.cred, now, DefaultRefreshBuffer))
		})
	}
}

func TestApplyToken(t *testing.T) {
	old := Credential{
		ID: "g-oauth", ProviderID: "gemini", Method: MethodOAuth,
		Secret: "old-access", RefreshToken: "old-refresh",
		Expiry: ptr(now), Scopes: []string{"a"},
	}

	t.Run("keeps refresh token when none returned", func(t *testing.T) {
		next := ApplyToken(old, Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, now)
		assert.Equal(t, "new", next.Secret)
		assert.Equal(t, "old-refresh", next.RefreshToken)
		assert.Equal(t, now.Add(time.Hour), *next.Expiry)
		assert.Equal(t, "old-access", old.Secret, "input is not mutated")
	})

	t.Run("rotates refresh token and defaults expiry", func(t *testing.T) {
		next := ApplyToken(old, Token{AccessToken: "new", RefreshToken: "r2"}, now)
		assert.Equal(t, "r2", next.RefreshToken)
		assert.Equal(t, now.Add(time.Hour), *next.Expiry)
	})
}

func TestCredentialNeverLogsSecret(t *testing.T) {
	c := Credential{ID: "k1", ProviderID: "openai", Method: MethodStaticKey, Secret: "sk-very-secret-value"}

	assert.NotContains(t, c.String(), "very-secret")
	assert.NotContains(t, c.String(), "sk-v", "no prefix of the secret either")
	assert.Contains(t, c.String(), "secret=****")
	assert.NotContains(t, fmt.Sprintf("%v", c), "very-secret")

	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("using", slog.Any("credential", c))
	assert.NotContains(t, buf.String(), "very-secret")
	assert.Contains(t, buf.String(), `"id":"k1"`)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Credential{ProviderID: "p", Secret: "s", Method: MethodOAuth}.Validate())
	assert.ErrorIs(t, Credential{Secret: "s", Method: MethodOAuth}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Credential{ProviderID: "p", Method: MethodOAuth}.Validate(), ErrInvalid)
	err := Credential{ProviderID: "p", Secret: "s", Method: "magic"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}
