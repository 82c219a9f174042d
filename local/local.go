// Package local implements provider.Transport over a long-running sidecar
// process that speaks JSON-RPC 2.0 on stdio, one message per line.
//
// The sidecar fronts a local model runtime (Ollama, llama.cpp, vLLM, an
// in-process model) or anything else that can answer completions. It is
// started on the first request, initialized once with "init", sent one
// "complete" call per request, and stopped with "shutdown" on Close. A
// sidecar that exits is restarted by the next request.
//
// Sidecar errors map onto provider errors so the dispatcher classifies
// them like HTTP failures: CodeRateLimited is a 429, CodeUnauthorized a
// 401, CodeModelNotFound a 404, and an error's data member may carry the
// upstream status and error name directly.
//
// # Usage
//
//	import _ "github.com/rashee1997/orchestrator-sub006/local"
//
//	t, err := provider.New("local", provider.Config{
//	    Command: "python3",
//	    Args:    []string{"sidecar.py"},
//	    Options: map[string]any{"backend": "ollama", "host": "localhost:11434"},
//	})
package local

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

func init() {
	provider.Register("local", func(cfg provider.Config) (provider.Transport, error) {
		return New(cfg)
	})
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("local transport closed")

// Transport sends requests to a sidecar process. Safe for concurrent use;
// requests share one sidecar.
type Transport struct {
	s      settings
	logger *slog.Logger

	mu      sync.Mutex
	current *sidecar
	closed  bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for lifecycle events and sidecar stderr.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Transport from cfg. Command is required. The sidecar is
// not started until the first Send.
func New(cfg provider.Config, opts ...Option) (*Transport, error) {
	s, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}
	t := &Transport{s: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Provider implements provider.Transport.
func (t *Transport) Provider() string { return t.s.id }

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()
	sc, err := t.ensureStarted(ctx)
	if err != nil {
		return nil, provider.NotSent(t.s.id, req.Model, err)
	}

	if t.s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.s.requestTimeout)
		defer cancel()
	}

	var res CompleteResult
	if err := sc.protocol.Call(ctx, MethodComplete, t.buildParams(req), &res); err != nil {
		return nil, t.toProviderError(req.Model, err)
	}
	if res.Content == "" {
		return nil, provider.Empty(t.s.id, req.Model, res.FinishReason)
	}

	model := res.Model
	if model == "" {
		model = req.Model
	}
	usage := provider.TokenUsage{
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		TotalTokens:  res.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return &provider.Response{
		Text:         res.Content,
		Model:        model,
		FinishReason: res.FinishReason,
		Usage:        usage,
		Duration:     time.Since(start),
	}, nil
}

// Close stops the sidecar. Later calls to Send fail with ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	sc := t.current
	t.current = nil
	t.closed = true
	t.mu.Unlock()

	if sc == nil {
		return nil
	}
	return sc.stop(t.s.stopTimeout)
}

// ensureStarted returns the running sidecar, starting or restarting it
// when needed.
func (t *Transport) ensureStarted(ctx context.Context) (*sidecar, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.current != nil {
		if t.current.running() {
			return t.current, nil
		}
		t.current.kill()
		t.logger.Warn("sidecar exited, restarting",
			slog.String("provider", t.s.id), slog.Any("exit_error", t.current.exitErr))
		t.current = nil
	}

	sc, err := startSidecar(ctx, t.s, t.logger)
	if err != nil {
		return nil, err
	}
	t.current = sc
	return sc, nil
}

func (t *Transport) buildParams(req provider.Request) CompleteParams {
	params := CompleteParams{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Credential:   req.Auth.Secret,
		Messages:     make([]MessageParam, len(req.Messages)),
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = t.s.maxTokens
	}
	for i, m := range req.Messages {
		params.Messages[i] = MessageParam{Role: string(m.Role), Content: m.Content}
	}
	return params
}

// codeStatus gives sidecar error codes an HTTP equivalent.
var codeStatus = map[int]int{
	CodeParseError:     http.StatusBadRequest,
	CodeInvalidRequest: http.StatusBadRequest,
	CodeMethodNotFound: http.StatusNotImplemented,
	CodeInvalidParams:  http.StatusBadRequest,
	CodeInternalError:  http.StatusInternalServerError,
	CodeBackendError:   http.StatusBadGateway,
	CodeModelNotFound:  http.StatusNotFound,
	CodeRateLimited:    http.StatusTooManyRequests,
	CodeUnauthorized:   http.StatusUnauthorized,
}

func (t *Transport) toProviderError(model string, err error) error {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		perr := &provider.Error{Provider: t.s.id, Model: model, Message: rpcErr.Message, Err: rpcErr}
		var data ErrorData
		if len(rpcErr.Data) > 0 && json.Unmarshal(rpcErr.Data, &data) == nil {
			perr.Status, perr.Name = data.Status, data.Name
		}
		if perr.Status == 0 {
			perr.Status = codeStatus[rpcErr.Code]
		}
		switch rpcErr.Code {
		case CodeConnectionError:
			perr.Name = "NetworkError"
		case CodeQuotaExhausted:
			perr.Name = "insufficient_quota"
		}
		return perr
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &provider.Error{Provider: t.s.id, Model: model, Name: "TimeoutError", Message: err.Error(), Err: err}
	case errors.Is(err, errProtocol):
		return &provider.Error{Provider: t.s.id, Model: model, Name: "NetworkError", Message: err.Error(), Err: err}
	default:
		return &provider.Error{Provider: t.s.id, Model: model, Message: err.Error(), Err: err}
	}
}
