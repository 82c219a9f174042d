// Package gemini implements provider.Transport for the Google Generative
// Language API (generateContent).
//
// Static keys are sent in the x-goog-api-key header; OAuth access tokens
// as bearer tokens.
//
// # Usage
//
//	import _ "github.com/rashee1997/orchestrator-sub006/gemini"
//
//	t, err := provider.New("gemini", provider.Config{})
package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Defaults.
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultTimeout    = 2 * time.Minute
)

func init() {
	provider.Register("gemini", func(cfg provider.Config) (provider.Transport, error) {
		return New(cfg)
	})
}

// Transport talks to the generateContent endpoint.
type Transport struct {
	id         string
	baseURL    string
	apiVersion string
	maxTokens  int
	headers    map[string]string
	client     *http.Client
}

// New creates a Transport from cfg. Options: "api_version".
func New(cfg provider.Config) (*Transport, error) {
	client, err := provider.NewHTTPClient(cfg, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		id:         cfg.ID("gemini"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.GetStringOption("api_version", DefaultAPIVersion),
		maxTokens:  cfg.MaxTokens,
		headers:    cfg.Headers,
		client:     client,
	}
	if t.baseURL == "" {
		t.baseURL = DefaultBaseURL
	}
	return t, nil
}

// Provider implements provider.Transport.
func (t *Transport) Provider() string { return t.id }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()

	var body generateRequest
	system := req.SystemPrompt
	for _, m := range req.Messages {
		switch m.Role {
		case provider.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case provider.RoleAssistant:
			body.Contents = append(body.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = t.maxTokens
	}
	if maxTokens > 0 || req.Temperature != nil {
		body.GenerationConfig = &generationConfig{MaxOutputTokens: maxTokens, Temperature: req.Temperature}
	}

	header := http.Header{}
	switch req.Auth.Scheme {
	case provider.AuthBearer:
		header.Set("Authorization", "Bearer "+req.Auth.Secret)
	default:
		header.Set("x-goog-api-key", req.Auth.Secret)
	}
	for k, v := range t.headers {
		header.Set(k, v)
	}

	endpoint := t.baseURL + "/" + t.apiVersion + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	var out generateResponse
	call := provider.Call{Provider: t.id, Model: req.Model, URL: endpoint, Header: header}
	if err := provider.PostJSON(ctx, t.client, call, body, &out, parseError); err != nil {
		return nil, err
	}

	if len(out.Candidates) == 0 {
		return nil, provider.Empty(t.id, req.Model, out.PromptFeedback.BlockReason)
	}
	cand := out.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, provider.Empty(t.id, req.Model, cand.FinishReason)
	}

	model := out.ModelVersion
	if model == "" {
		model = req.Model
	}
	usage := provider.TokenUsage{
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  out.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return &provider.Response{
		Text:         text.String(),
		Model:        model,
		FinishReason: cand.FinishReason,
		Duration:     time.Since(start),
		Usage:        usage,
	}, nil
}

// parseError reads {"error":{"code":429,"message":...,"status":"RESOURCE_EXHAUSTED"}}.
func parseError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Status, e.Error.Message
}
