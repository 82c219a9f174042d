package provider

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds configuration for building a transport.
// Common fields apply to all transports; use Options for the rest.
type Config struct {
	// Kind is the registered transport name ("anthropic", "gemini",
	// "openai", "cli", "local"). Required when built from configuration files.
	Kind string `json:"kind" yaml:"kind" toml:"kind"`

	// ProviderID overrides the provider ID reported by the transport.
	// Defaults to Kind. Lets two OpenAI-compatible endpoints coexist.
	ProviderID string `json:"provider_id" yaml:"provider_id" toml:"provider_id"`

	// BaseURL is the API endpoint root. Empty uses the transport default.
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`

	// ProxyURL routes HTTP traffic through a proxy. Optional.
	ProxyURL string `json:"proxy_url" yaml:"proxy_url" toml:"proxy_url"`

	// Timeout bounds a single HTTP exchange. The dispatcher applies its own
	// per-attempt deadline on top. 0 uses the transport default.
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`

	// MaxTokens is the default response cap when a request leaves it unset.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`

	// Headers are added to every HTTP request.
	Headers map[string]string `json:"headers" yaml:"headers" toml:"headers"`

	// Command and Args start the local process for the "cli" and "local"
	// transports.
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`

	// Env is appended to the environment of started processes.
	Env map[string]string `json:"env" yaml:"env" toml:"env"`

	// Options holds transport-specific configuration.
	Options map[string]any `json:"options" yaml:"options" toml:"options"`
}

// Validate rejects negative limits and unparseable URLs.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("proxy_url: %w", err)
		}
	}
	return nil
}

// ID returns ProviderID, or fallback when unset.
func (c Config) ID(fallback string) string {
	if c.ProviderID != "" {
		return c.ProviderID
	}
	return fallback
}

// GetStringOption returns Options[key] when it is a string, else def.
func (c Config) GetStringOption(key, def string) string {
	if v, ok := c.Options[key].(string); ok {
		return v
	}
	return def
}
