// Package provider defines the uniform transport interface for AI backends.
//
// Every backend (HTTP with API key, HTTP with OAuth bearer tokens, an
// OAuth proxy, a local CLI process or a sidecar) implements Transport. The
// dispatcher treats them identically: it hands over a Request carrying the
// chosen credential and receives either a normalized Response or an
// *Error describing the failure.
//
// # Usage
//
// Create a transport using the registry:
//
//	t, err := provider.New("gemini", provider.Config{
//	    BaseURL: "https://generativelanguage.googleapis.com",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := t.Send(ctx, provider.Request{
//	    Model:    "gemini-2.5-flash",
//	    Messages: []provider.Message{provider.NewTextMessage(provider.RoleUser, "hi")},
//	    Auth:     provider.Auth{Scheme: provider.AuthAPIKey, Secret: key},
//	})
//
// # Available Transports
//
//   - "anthropic": Anthropic Messages API (API key or OAuth bearer)
//   - "gemini": Google Generative Language API (API key or OAuth bearer)
//   - "openai": OpenAI-compatible chat completions, optionally via a proxy
//   - "cli": local CLI process reading the prompt from stdin
//   - "local": long-running JSON-RPC sidecar process
package provider

import "context"

// Transport sends one request to one backend.
// Implementations must be safe for concurrent use and must honour ctx
// cancellation and deadlines.
type Transport interface {
	// Send issues the request and returns the normalized response.
	// Failures are returned as *Error where possible.
	Send(ctx context.Context, req Request) (*Response, error)

	// Provider returns the provider ID this transport serves
	// (e.g. "gemini", "anthropic").
	Provider() string
}

// TransportFunc adapts a function to Transport. Used mostly in tests.
type TransportFunc struct {
	ID string
	Fn func(ctx context.Context, req Request) (*Response, error)
}

// Send calls Fn.
func (f TransportFunc) Send(ctx context.Context, req Request) (*Response, error) {
	return f.Fn(ctx, req)
}

// Provider returns ID.
func (f TransportFunc) Provider() string {
	return f.ID
}
