package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	var got Config
	Register("Fake-Kind", func(cfg Config) (Transport, error) {
		got = cfg
		return TransportFunc{ID: cfg.ID("fake-kind")}, nil
	})
	t.Cleanup(func() { Unregister("fake-kind") })

	assert.True(t, IsRegistered("FAKE-KIND"))
	assert.Contains(t, Available(), "fake-kind")

	tr, err := New("", Config{Kind: " fake-kind ", ProviderID: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", tr.Provider())
	assert.Equal(t, "fake-kind", got.Kind)

	assert.Panics(t, func() { Register("fake-kind", func(Config) (Transport, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("other", nil) })
	assert.Panics(t, func() { Register(" ", func(Config) (Transport, error) { return nil, nil }) })

	_, err = New("fake-kind", Config{Timeout: -time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must not be negative")

	_, err = New("missing", Config{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero value", Config{}, ""},
		{"negative max tokens", Config{MaxTokens: -1}, "max_tokens"},
		{"bad base url", Config{BaseURL: "://x"}, "base_url"},
		{"bad proxy url", Config{ProxyURL: "://x"}, "proxy_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := Config{Options: map[string]any{"s": "v", "n": 3}}
	assert.Equal(t, "v", cfg.GetStringOption("s", "d"))
	assert.Equal(t, "d", cfg.GetStringOption("n", "d"))
	assert.Equal(t, "d", cfg.GetStringOption("absent", "d"))
	assert.Equal(t, "fallback", cfg.ID("fallback"))
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"status and name", NewStatusError("gemini", "m", 429, "RESOURCE_EXHAUSTED", "slow"), "gemini m: status 429 (RESOURCE_EXHAUSTED): slow"},
		{"status only", NewStatusError("gemini", "m", 500, "", "boom"), "gemini m: status 500: boom"},
		{"name only", &Error{Provider: "cli", Model: "m", Name: "CLIError", Message: "exit 1"}, "cli m: CLIError: exit 1"},
		{"wrapped only", &Error{Provider: "cli", Model: "m", Err: errors.New("inner")}, "cli m: inner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNotSent(t *testing.T) {
	cause := errors.New("dial refused")
	err := NotSent("openai", "m", cause)

	assert.False(t, WasSent(err))
	assert.ErrorIs(t, err, ErrNotSent)
	assert.ErrorIs(t, err, cause)
	assert.True(t, WasSent(NewStatusError("openai", "m", 500, "", "x")))

	empty := Empty("openai", "m", "length")
	assert.ErrorIs(t, empty, ErrEmptyResponse)
	assert.Contains(t, empty.Error(), "(length)")
}

type echo struct {
	Text string `json:"text"`
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "yes", r.Header.Get("X-Extra"))
			_, _ = w.Write([]byte(`{"text":"hi"}`))
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"quota"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{}, time.Second)
	require.NoError(t, err)
	call := func(path string) Call {
		return Call{Provider: "p", Model: "m", URL: srv.URL + path, Header: http.Header{"X-Extra": {"yes"}}}
	}
	parse := func(body []byte) (string, string) { return "quota_error", "parsed: " + string(body) }

	var out echo
	require.NoError(t, PostJSON(context.Background(), client, call("/ok"), map[string]string{"q": "x"}, &out, parse))
	assert.Equal(t, "hi", out.Text)

	err = PostJSON(context.Background(), client, call("/limited"), nil, &out, parse)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.Status)
	assert.Equal(t, "quota_error", perr.Name)
	assert.Contains(t, perr.Message, "parsed:")
	assert.True(t, WasSent(err))

	err = PostJSON(context.Background(), client, call("/garbage"), nil, &out, nil)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
}

func TestPostJSON_DialFailureIsNotSent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, err := NewHTTPClient(Config{}, time.Second)
	require.NoError(t, err)
	err = PostJSON(context.Background(), client, Call{Provider: "p", Model: "m", URL: "http://" + addr}, nil, &echo{}, nil)
	require.Error(t, err)
	assert.False(t, WasSent(err))
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	assert.Equal(t, TokenUsage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33}, u)
}
