package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashee1997/orchestrator-sub006/classify"
	"github.com/rashee1997/orchestrator-sub006/provider"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := New(provider.Config{BaseURL: srv.URL, Headers: map[string]string{"X-Trace": "abc"}})
	require.NoError(t, err)
	return tr
}

func request(scheme provider.AuthScheme) provider.Request {
	return provider.Request{
		Model:        "claude-test",
		SystemPrompt: "be terse",
		Messages:     []provider.Message{provider.NewTextMessage(provider.RoleUser, "hello")},
		Auth:         provider.Auth{Scheme: scheme, Secret: "sk-secret"},
	}
}

func TestSend_APIKey(t *testing.T) {
	tr := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-secret", r.Header.Get("x-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))

		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body.Model)
		assert.Equal(t, "be terse", body.System)
		assert.Equal(t, DefaultMaxTokens, body.MaxTokens)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "hello", body.Messages[0].Content)

		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-test","content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":3}}`))
	})

	resp, err := tr.Send(context.Background(), request(provider.AuthAPIKey))
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, provider.TokenUsage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "msg_1", resp.Metadata["id"])
}

func TestSend_Bearer(t *testing.T) {
	tr := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-secret", r.Header.Get("Authorization"))
		assert.Equal(t, OAuthBeta, r.Header.Get("anthropic-beta"))
		assert.Empty(t, r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	})

	resp, err := tr.Send(context.Background(), request(provider.AuthBearer))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "claude-test", resp.Model)
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantName  string
		wantKind  classify.Kind
		wantEmpty bool
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`,
			wantName: "rate_limit_error",
			wantKind: classify.KindRateLimited,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantName: "authentication_error",
			wantKind: classify.KindAuthentication,
		},
		{
			name:     "overloaded",
			status:   529,
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantName: "overloaded_error",
			wantKind: classify.KindTransient,
		},
		{
			name:     "plain text body",
			status:   http.StatusBadRequest,
			body:     `bad things`,
			wantKind: classify.KindMalformedRequest,
		},
		{
			name:      "no text",
			status:    http.StatusOK,
			body:      `{"content":[],"stop_reason":"max_tokens"}`,
			wantKind:  classify.KindUnknown,
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := tr.Send(context.Background(), request(provider.AuthAPIKey))
			require.Error(t, err)

			var perr *provider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "anthropic", perr.Provider)
			if tt.wantEmpty {
				assert.ErrorIs(t, err, provider.ErrEmptyResponse)
				return
			}
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.wantName, perr.Name)
			assert.Equal(t, tt.wantKind, classify.Error(err).Kind)
		})
	}
}

func TestRegistered(t *testing.T) {
	assert.True(t, provider.IsRegistered("anthropic"))
	tr, err := provider.New("anthropic", provider.Config{ProviderID: "claude-proxy"})
	require.NoError(t, err)
	assert.Equal(t, "claude-proxy", tr.Provider())
}
