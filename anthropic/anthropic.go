// Package anthropic implements provider.Transport for the Anthropic
// Messages API.
//
// Static keys are sent in the x-api-key header. OAuth access tokens are
// sent as bearer tokens together with the OAuth beta header.
//
// # Usage
//
//	import _ "github.com/rashee1997/orchestrator-sub006/anthropic"
//
//	t, err := provider.New("anthropic", provider.Config{})
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Defaults.
const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 2 * time.Minute
	APIVersion       = "2023-06-01"
	OAuthBeta        = "oauth-2025-04-20"
)

func init() {
	provider.Register("anthropic", func(cfg provider.Config) (provider.Transport, error) {
		return New(cfg)
	})
}

// Transport talks to the Messages API.
type Transport struct {
	id        string
	baseURL   string
	maxTokens int
	headers   map[string]string
	client    *http.Client
}

// New creates a Transport from cfg.
func New(cfg provider.Config) (*Transport, error) {
	client, err := provider.NewHTTPClient(cfg, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		id:        cfg.ID("anthropic"),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens: cfg.MaxTokens,
		headers:   cfg.Headers,
		client:    client,
	}
	if t.baseURL == "" {
		t.baseURL = DefaultBaseURL
	}
	if t.maxTokens == 0 {
		t.maxTokens = DefaultMaxTokens
	}
	return t, nil
}

// Provider implements provider.Transport.
func (t *Transport) Provider() string { return t.id }

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()

	body := messagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = t.maxTokens
	}
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			body.System = joinNonEmpty(body.System, m.Content)
			continue
		}
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	header := http.Header{}
	header.Set("anthropic-version", APIVersion)
	switch req.Auth.Scheme {
	case provider.AuthBearer:
		header.Set("Authorization", "Bearer "+req.Auth.Secret)
		header.Set("anthropic-beta", OAuthBeta)
	default:
		header.Set("x-api-key", req.Auth.Secret)
	}
	for k, v := range t.headers {
		header.Set(k, v)
	}

	var out messagesResponse
	call := provider.Call{Provider: t.id, Model: req.Model, URL: t.baseURL + "/v1/messages", Header: header}
	if err := provider.PostJSON(ctx, t.client, call, body, &out, parseError); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, provider.Empty(t.id, req.Model, out.StopReason)
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &provider.Response{
		Text:         text.String(),
		Model:        model,
		FinishReason: out.StopReason,
		Duration:     time.Since(start),
		Usage: provider.TokenUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Metadata: map[string]any{"id": out.ID},
	}, nil
}

// parseError reads {"type":"error","error":{"type":...,"message":...}}.
func parseError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Type, e.Error.Message
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
