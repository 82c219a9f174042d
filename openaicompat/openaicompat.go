// Package openaicompat implements provider.Transport for OpenAI-compatible
// chat completion endpoints, including OAuth proxies that front them.
//
// Credentials are always sent as bearer tokens. Set ProxyURL to route
// through an HTTP proxy, or BaseURL to target a compatible gateway.
//
// # Usage
//
//	import _ "github.com/rashee1997/orchestrator-sub006/openaicompat"
//
//	t, err := provider.New("openai", provider.Config{
//	    BaseURL:    "http://localhost:8317/v1",
//	    ProviderID: "oauth-proxy",
//	})
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Defaults.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 2 * time.Minute
)

func init() {
	provider.Register("openai", func(cfg provider.Config) (provider.Transport, error) {
		return New(cfg)
	})
}

// Transport talks to /chat/completions.
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
		id:        cfg.ID("openai"),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens: cfg.MaxTokens,
		headers:   cfg.Headers,
		client:    client,
	}
	if t.baseURL == "" {
		t.baseURL = DefaultBaseURL
	}
	return t, nil
}

// Provider implements provider.Transport.
func (t *Transport) Provider() string { return t.id }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()

	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = t.maxTokens
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: string(provider.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Auth.Secret)
	for k, v := range t.headers {
		header.Set(k, v)
	}

	var out chatResponse
	call := provider.Call{Provider: t.id, Model: req.Model, URL: t.baseURL + "/chat/completions", Header: header}
	if err := provider.PostJSON(ctx, t.client, call, body, &out, parseError); err != nil {
		return nil, err
	}

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		reason := ""
		if len(out.Choices) > 0 {
			reason = out.Choices[0].FinishReason
		}
		return nil, provider.Empty(t.id, req.Model, reason)
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &provider.Response{
		Text:         out.Choices[0].Message.Content,
		Model:        model,
		FinishReason: out.Choices[0].FinishReason,
		Duration:     time.Since(start),
		Usage: provider.TokenUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Metadata: map[string]any{"id": out.ID},
	}, nil
}

// parseError reads {"error":{"message":...,"type":...,"code":...}}. The
// code is preferred as the name since it carries insufficient_quota.
func parseError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	name := e.Error.Type
	if e.Error.Code != nil {
		if s := fmt.Sprint(e.Error.Code); s != "" {
			name = s
		}
	}
	return name, e.Error.Message
}
