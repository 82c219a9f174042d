package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashee1997/orchestrator-sub006/classify"
	"github.com/rashee1997/orchestrator-sub006/provider"
)

func newHelper(t *testing.T, mode string, opts map[string]any) *Transport {
	t.Helper()
	tr, err := New(helperConfig(mode, opts))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func req(model string) provider.Request {
	return provider.Request{
		Model:        model,
		SystemPrompt: "be brief",
		Messages:     []provider.Message{provider.NewTextMessage(provider.RoleUser, "hello")},
		MaxTokens:    64,
		Auth:         provider.Auth{Scheme: provider.AuthAPIKey, Secret: "local-key"},
	}
}

func pidOf(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "pid=")
	require.GreaterOrEqual(t, i, 0, text)
	return text[i:]
}

func TestNew_Settings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     provider.Config
		wantErr string
	}{
		{"missing command", provider.Config{}, "command is required"},
		{"bad duration", provider.Config{Command: "x", Options: map[string]any{"startup_timeout": "soon"}}, "startup_timeout"},
		{"zero duration", provider.Config{Command: "x", Options: map[string]any{"stop_timeout": 0}}, "stop_timeout must be > 0"},
		{"wrong type", provider.Config{Command: "x", Options: map[string]any{"startup_timeout": true}}, "unsupported type"},
		{"seconds", provider.Config{Command: "x", Options: map[string]any{"startup_timeout": 2.5}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSettings_Defaults(t *testing.T) {
	s, err := parseSettings(provider.Config{Command: "sidecar", MaxTokens: 128, Options: map[string]any{
		"backend":      "vllm",
		"init_options": map[string]any{"gpu": true},
	}})
	require.NoError(t, err)
	assert.Equal(t, "local", s.id)
	assert.Equal(t, "vllm", s.backend)
	assert.Equal(t, DefaultStartupTimeout, s.startupTimeout)
	assert.Equal(t, DefaultStopTimeout, s.stopTimeout)
	assert.Equal(t, true, s.initOptions["gpu"])
	assert.Equal(t, 128, s.maxTokens)
}

func TestSend_RoundTrip(t *testing.T) {
	tr := newHelper(t, "echo", map[string]any{"backend": "ollama"})
	assert.Equal(t, "ollama", tr.Provider())

	resp, err := tr.Send(context.Background(), req("llama3"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Text, "be brief|user:hello|key=local-key|max=64|"), resp.Text)
	assert.Equal(t, "llama3-served", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)

	again, err := tr.Send(context.Background(), req("llama3"))
	require.NoError(t, err)
	assert.Equal(t, pidOf(t, resp.Text), pidOf(t, again.Text), "sidecar is reused")
}

func TestSend_Concurrent(t *testing.T) {
	tr := newHelper(t, "echo", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Send(context.Background(), req("m"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestSend_ErrorsClassify(t *testing.T) {
	tests := []struct {
		mode       string
		wantStatus int
		wantKind   classify.Kind
	}{
		{"rate_limited", 429, classify.KindRateLimited},
		{"upstream", 429, classify.KindQuotaExhausted},
		{"unauthorized", 401, classify.KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			tr := newHelper(t, tt.mode, nil)

			_, err := tr.Send(context.Background(), req("m"))
			require.Error(t, err)
			var perr *provider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantStatus, perr.Status)
			assert.True(t, provider.WasSent(err))
			assert.Equal(t, tt.wantKind, classify.Error(err).Kind)
		})
	}
}

func TestSend_EmptyContent(t *testing.T) {
	tr := newHelper(t, "empty", nil)

	_, err := tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)
}

func TestSend_NotReadyIsNotSent(t *testing.T) {
	tr := newHelper(t, "not_ready", nil)

	_, err := tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.False(t, provider.WasSent(err))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestSend_MissingBinaryIsNotSent(t *testing.T) {
	tr, err := New(provider.Config{Command: "/nonexistent/sidecar-binary"})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.False(t, provider.WasSent(err))
}

func TestSend_CrashIsTransientAndRestarts(t *testing.T) {
	tr := newHelper(t, "crash", nil)

	_, err := tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.True(t, provider.WasSent(err))
	assert.Equal(t, classify.KindTransient, classify.Error(err).Kind)

	// The next request starts a fresh process, which crashes the same way.
	_, err = tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.Equal(t, classify.KindTransient, classify.Error(err).Kind)
}

func TestSend_RequestTimeout(t *testing.T) {
	cfg := helperConfig("slow", nil)
	cfg.Timeout = 100 * time.Millisecond
	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	_, err = tr.Send(context.Background(), req("m"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, classify.KindTransient, classify.Error(err).Kind)
}

func TestClose(t *testing.T) {
	tr, err := New(helperConfig("echo", nil))
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req("m"))
	require.NoError(t, err)
	sc := tr.current

	require.NoError(t, tr.Close())
	assert.False(t, sc.running())
	require.NoError(t, tr.Close())

	_, err = tr.Send(context.Background(), req("m"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, provider.WasSent(err))
}

func TestRegistered(t *testing.T) {
	tr, err := provider.New("local", provider.Config{Command: "sidecar"})
	require.NoError(t, err)
	assert.Equal(t, "local", tr.Provider())
}
