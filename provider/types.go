package provider

import (
	"time"
)

// Request is the provider-agnostic input to a single model call.
type Request struct {
	// Model is the provider-specific model identifier.
	// Examples: "gemini-2.5-flash", "claude-sonnet-4-20250514", "gpt-4o-mini"
	Model string `json:"model"`

	// SystemPrompt sets the system instruction. Optional.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation to send.
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length. 0 uses the transport default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// Auth carries the credential material chosen for this call.
	Auth Auth `json:"-"`
}

// Auth is the credential material a transport attaches to a request.
type Auth struct {
	// Scheme selects how Secret is presented.
	Scheme AuthScheme

	// Secret is the API key or OAuth access token.
	Secret string

	// CredentialID identifies the credential, for logs and errors.
	CredentialID string
}

// AuthScheme identifies how a secret is attached to a request.
type AuthScheme string

// Supported auth schemes.
const (
	AuthAPIKey AuthScheme = "api_key"
	AuthBearer AuthScheme = "bearer"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewTextMessage builds a Message.
func NewTextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// Role is who authored a message.
type Role string

// Roles every transport maps onto its wire format.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Response is the normalized output of a model call. Each transport maps
// its provider payload into this shape; nothing above the transport sees
// provider-specific structures.
type Response struct {
	// Text is the model's text output.
	Text string `json:"text"`

	// Usage is the token accounting reported by the backend.
	Usage TokenUsage `json:"usage"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// FinishReason is the backend's stop reason as reported.
	FinishReason string `json:"finish_reason,omitempty"`

	// Duration is the wall time spent in the transport.
	Duration time.Duration `json:"duration"`

	// Metadata holds raw provider fields worth keeping (request IDs etc).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TokenUsage counts tokens for one call or an aggregate.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
