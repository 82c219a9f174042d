package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashee1997/orchestrator-sub006/config"
	"github.com/rashee1997/orchestrator-sub006/credential"
	"github.com/rashee1997/orchestrator-sub006/credential/filestore"
	"github.com/rashee1997/orchestrator-sub006/dispatch"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/prompt"
	"github.com/rashee1997/orchestrator-sub006/provider"
	"github.com/rashee1997/orchestrator-sub006/repair"
	"github.com/rashee1997/orchestrator-sub006/search"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const testModel = "gemini-test"

// geminiServer answers generateContent calls according to the system
// instruction, the way each built-in prompt expects.
type geminiServer struct {
	*httptest.Server

	mu    sync.Mutex
	auth  []string
	calls int
}

func newGeminiServer(t *testing.T) *geminiServer {
	t.Helper()
	g := &geminiServer{}
	g.Server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.Close)
	return g
}

func (g *geminiServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, testModel+":generateContent") {
		http.NotFound(w, r)
		return
	}
	var body struct {
		SystemInstruction *struct {
			Parts []struct{ Text string } `json:"parts"`
		} `json:"systemInstruction"`
		Contents []struct {
			Parts []struct{ Text string } `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.calls++
	auth := r.Header.Get("x-goog-api-key")
	if auth == "" {
		auth = r.Header.Get("Authorization")
	}
	g.auth = append(g.auth, auth)
	g.mu.Unlock()

	system := ""
	if body.SystemInstruction != nil && len(body.SystemInstruction.Parts) > 0 {
		system = body.SystemInstruction.Parts[0].Text
	}
	var reply string
	switch system {
	case prompt.AnalysisSystem:
		reply = `[{"index": 0, "relevance": 0.9}]`
	case prompt.DecisionSystem:
		reply = `{"decision": "ANSWER", "confidence": 0.9}`
	case prompt.AnswerSystem:
		reply = "Retries back off linearly."
	case prompt.RepairSystem:
		reply = `{"fixed": true}`
	default:
		reply = "echo: " + body.Contents[len(body.Contents)-1].Parts[0].Text
	}

	resp := map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *geminiServer) lastAuth() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.auth) == 0 {
		return ""
	}
	return g.auth[len(g.auth)-1]
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Providers = map[string]provider.Config{
		model.ProviderGemini: {Kind: "gemini", BaseURL: baseURL},
	}
	cfg.Models = []model.Descriptor{{
		ID:                 testModel,
		ProviderID:         model.ProviderGemini,
		Capability:         model.CapabilityComplex,
		Cost:               model.CostFree,
		RateLimitPerMinute: 100,
		ContextWindow:      1_000_000,
	}}
	cfg.Rules = model.Rules{}
	for _, task := range model.AllTaskTypes() {
		cfg.Rules[task] = model.TaskRule{Task: task, PreferredModel: testModel}
	}
	cfg.Credentials.Keys.Gemini = []string{"AIza-test-key"}
	cfg.Dispatch.BackoffStep = time.Millisecond
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), append([]Option{WithConfig(cfg), WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestDispatch_ThroughConfiguredTransport(t *testing.T) {
	srv := newGeminiServer(t)
	o := newOrchestrator(t, testConfig(srv.URL))

	assert.True(t, o.Registry().IsAvailable(testModel))

	res, err := o.Dispatch(context.Background(), model.TaskSummarization, "summarize this", "", dispatch.Options{})
	require.NoError(t, err)
	assert.Equal(t, "echo: summarize this", res.Content)
	assert.Equal(t, testModel, res.ModelUsed)
	assert.Equal(t, "AIza-test-key", srv.lastAuth())
	assert.Equal(t, 1, o.Stats().Model(testModel).Successes)
	assert.Equal(t, 1, o.Limiter().Stats(dispatch.Bucket(res.CredentialID, testModel)).InWindow)
}

func TestDispatchBatch_UsesConfiguredDefaults(t *testing.T) {
	srv := newGeminiServer(t)
	cfg := testConfig(srv.URL)
	cfg.Batch.Delay = time.Millisecond
	o := newOrchestrator(t, cfg)

	jobs := []dispatch.Job{
		{Task: model.TaskQueryRewriting, Prompt: "one"},
		{Task: model.TaskQueryRewriting, Prompt: "two"},
		{Task: model.TaskQueryRewriting, Prompt: "three"},
		{Task: model.TaskQueryRewriting, Prompt: "four"},
	}
	results, err := o.DispatchBatch(context.Background(), jobs, dispatch.BatchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, "echo: "+jobs[i].Prompt, r.Result.Content)
	}
}

func TestRepairJSON_FallsBackToModel(t *testing.T) {
	srv := newGeminiServer(t)
	o := newOrchestrator(t, testConfig(srv.URL))

	res := o.RepairJSON(context.Background(), "sorry, I cannot format that", repair.Object("test"))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, repair.StrategyModel, res.Strategy)
	assert.Equal(t, map[string]any{"fixed": true}, res.Value)

	strict := o.RepairJSON(context.Background(), `{"a": 1}`, repair.Object("test"))
	assert.Equal(t, repair.StrategyStrict, strict.Strategy)
}

func TestRunIterativeSearch(t *testing.T) {
	srv := newGeminiServer(t)
	o := newOrchestrator(t, testConfig(srv.URL))

	index := search.RetrieverFunc(func(ctx context.Context, query string, opts search.RetrieveOptions) ([]search.Item, error) {
		assert.Equal(t, 10, opts.Limit)
		return []search.Item{{SourceID: "dispatch/backoff.go", Content: "linear backoff", Relevance: 0.4}}, nil
	})

	res, err := o.RunIterativeSearch(context.Background(), "how do retries back off?", index, nil, search.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Retries back off linearly.", res.FinalAnswer)
	assert.Equal(t, search.TerminationAnswered, res.Termination)
	assert.Equal(t, 1, res.Metrics.TotalIterations)
	require.Len(t, res.Log, 1)
	require.Len(t, res.Context, 1)
	assert.InDelta(t, 0.9, res.Context[0].Relevance, 1e-9)
}

func TestNew_WithoutCredentials(t *testing.T) {
	srv := newGeminiServer(t)
	cfg := testConfig(srv.URL)
	cfg.Credentials.Keys.Gemini = nil
	o := newOrchestrator(t, cfg)

	assert.Empty(t, o.Registry().Available())
	_, err := o.Dispatch(context.Background(), model.TaskDecision, "q", "", dispatch.Options{})
	require.Error(t, err)
	assert.True(t, dispatch.IsKind(err, dispatch.KindNoModel), "%v", err)
}

func TestNew_SuppliedTransportWins(t *testing.T) {
	var got provider.Request
	fake := provider.TransportFunc{ID: model.ProviderGemini, Fn: func(ctx context.Context, req provider.Request) (*provider.Response, error) {
		got = req
		return &provider.Response{Text: "from fake", Model: req.Model}, nil
	}}
	o := newOrchestrator(t, testConfig("http://127.0.0.1:1"), WithTransport(fake))

	res, err := o.Dispatch(context.Background(), model.TaskDecision, "q", "sys", dispatch.Options{})
	require.NoError(t, err)
	assert.Equal(t, "from fake", res.Content)
	assert.Equal(t, "sys", got.SystemPrompt)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	delete(cfg.Rules, model.TaskDecision)
	_, err := New(context.Background(), WithConfig(cfg), WithLogger(quiet))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidRules)

	cfg = testConfig("http://127.0.0.1:1")
	cfg.Providers[model.ProviderGemini] = provider.Config{Kind: "carrier-pigeon"}
	_, err = New(context.Background(), WithConfig(cfg), WithLogger(quiet))
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestClose(t *testing.T) {
	srv := newGeminiServer(t)
	o := newOrchestrator(t, testConfig(srv.URL))

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	_, err := o.Dispatch(context.Background(), model.TaskDecision, "q", "", dispatch.Options{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = o.RunIterativeSearch(context.Background(), "q", search.RetrieverFunc(nil), nil, search.Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFilePersistence_WatchEnablesProvider(t *testing.T) {
	srv := newGeminiServer(t)
	path := filepath.Join(t.TempDir(), "credentials.json")
	cfg := testConfig(srv.URL)
	cfg.Credentials.Keys.Gemini = nil
	cfg.Credentials.Persistence = config.PersistenceFile
	cfg.Credentials.Path = path
	cfg.Credentials.Watch = true
	o := newOrchestrator(t, cfg)
	require.False(t, o.Registry().IsAvailable(testModel))

	// Another process logs in and writes the file.
	other := filestore.New(path)
	expiry := time.Now().Add(time.Hour)
	cred := credential.Credential{
		ProviderID: model.ProviderGemini,
		Method:     credential.MethodOAuth,
		Secret:     "ya29.access",
		Expiry:     &expiry,
	}
	require.Eventually(t, func() bool {
		_ = other.Save(context.Background(), model.ProviderGemini, cred)
		return o.Registry().IsAvailable(testModel)
	}, 5*time.Second, 50*time.Millisecond)

	_, err := o.Dispatch(context.Background(), model.TaskDecision, "q", "", dispatch.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ya29.access", srv.lastAuth())
}

func TestSQLitePersistence(t *testing.T) {
	srv := newGeminiServer(t)
	cfg := testConfig(srv.URL)
	cfg.Credentials.Persistence = config.PersistenceSQLite
	cfg.Credentials.Path = filepath.Join(t.TempDir(), "creds.db")
	o := newOrchestrator(t, cfg)

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, o.Credentials().PutOAuth(context.Background(), credential.Credential{
		ProviderID: model.ProviderGemini,
		Secret:     "ya29.stored",
		Expiry:     &expiry,
	}))
	o.Credentials().ResetOAuth(model.ProviderGemini)

	got, err := o.Credentials().Acquire(context.Background(), model.ProviderGemini)
	require.NoError(t, err)
	assert.True(t, got.IsOAuth())
	assert.Equal(t, "ya29.stored", got.Secret)
}

func TestRefresherFromConfig(t *testing.T) {
	var refreshed atomic.Bool
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshed.Store(true)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.new","refresh_token":"r2","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	srv := newGeminiServer(t)
	cfg := testConfig(srv.URL)
	cfg.Credentials.Keys.Gemini = nil
	cfg.Credentials.OAuth = map[string]credential.OAuthConfig{
		model.ProviderGemini: {ClientID: "cid", TokenURL: tokenSrv.URL},
	}
	persistence := credential.NewMemory()
	expiry := time.Now().Add(time.Minute)
	require.NoError(t, persistence.Save(context.Background(), model.ProviderGemini, credential.Credential{
		ID:           "gemini-oauth",
		ProviderID:   model.ProviderGemini,
		Method:       credential.MethodOAuth,
		Secret:       "ya29.old",
		RefreshToken: "r1",
		Expiry:       &expiry,
	}))
	o := newOrchestrator(t, cfg, WithPersistence(persistence))

	assert.True(t, refreshed.Load())
	assert.True(t, o.Registry().IsAvailable(testModel))
	_, err := o.Dispatch(context.Background(), model.TaskDecision, "q", "", dispatch.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ya29.new", srv.lastAuth())
}

func TestDispatch_CanceledContext(t *testing.T) {
	srv := newGeminiServer(t)
	o := newOrchestrator(t, testConfig(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Dispatch(ctx, model.TaskDecision, "q", "", dispatch.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || dispatch.IsKind(err, dispatch.KindCanceled), "%v", err)
}
