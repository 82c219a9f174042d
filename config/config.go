// Package config loads orchestrator configuration from a YAML or TOML
// file, applies environment overrides, and validates the result before
// anything is built from it.
//
// Precedence, lowest first: built-in defaults, the file, the environment.
// A file's models list replaces the built-in table; its rules are merged
// per task type.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rashee1997/orchestrator-sub006/credential"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Persistence kinds for OAuth credentials.
const (
	PersistenceMemory = "memory"
	PersistenceFile   = "file"
	PersistenceSQLite = "sqlite"
)

// Config is the complete orchestrator configuration.
type Config struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Providers maps provider IDs to transport settings. Every provider a
	// model references needs an entry.
	Providers map[string]provider.Config `json:"providers" yaml:"providers" toml:"providers"`

	Models []model.Descriptor `json:"models" yaml:"models" toml:"models"`
	Rules  model.Rules        `json:"rules" yaml:"rules" toml:"rules"`

	Credentials Credentials `json:"credentials" yaml:"credentials" toml:"credentials"`
	Dispatch    Dispatch    `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	RateLimit   RateLimit   `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Batch       Batch       `json:"batch" yaml:"batch" toml:"batch"`
	Search      Search      `json:"search" yaml:"search" toml:"search"`
}

// Credentials configures static keys and OAuth persistence.
type Credentials struct {
	// Persistence is memory, file or sqlite.
	Persistence string `json:"persistence" yaml:"persistence" toml:"persistence" env:"ORCH_CREDENTIAL_STORE"`

	// Path is the JSON file for file persistence.
	Path string `json:"path" yaml:"path" toml:"path" env:"ORCH_CREDENTIAL_PATH"`

	// DSN is the database for sqlite persistence.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn" env:"ORCH_CREDENTIAL_DSN"`

	// Watch reloads OAuth credentials when the file is replaced by another
	// process. File persistence only.
	Watch bool `json:"watch" yaml:"watch" toml:"watch" env:"ORCH_CREDENTIAL_WATCH"`

	RefreshBuffer time.Duration `json:"refresh_buffer" yaml:"refresh_buffer" toml:"refresh_buffer" env:"ORCH_REFRESH_BUFFER"`

	// OAuth maps provider IDs to token endpoints.
	OAuth map[string]credential.OAuthConfig `json:"oauth" yaml:"oauth" toml:"oauth"`

	Keys Keys `json:"keys" yaml:"keys" toml:"keys"`
}

// Keys lists static API keys per provider. Environment variables hold
// comma-separated keys and replace the file's list for that provider.
type Keys struct {
	Gemini    []string `json:"gemini" yaml:"gemini" toml:"gemini" env:"GEMINI_API_KEYS" envSeparator:","`
	Anthropic []string `json:"anthropic" yaml:"anthropic" toml:"anthropic" env:"ANTHROPIC_API_KEYS" envSeparator:","`
	OpenAI    []string `json:"openai" yaml:"openai" toml:"openai" env:"OPENAI_API_KEYS" envSeparator:","`

	// Other holds keys for additional provider IDs.
	Other map[string][]string `json:"other" yaml:"other" toml:"other"`
}

// ByProvider returns every configured key list keyed by provider ID.
// Blank entries are dropped.
func (k Keys) ByProvider() map[string][]string {
	out := make(map[string][]string)
	add := func(id string, keys []string) {
		for _, key := range keys {
			if key = strings.TrimSpace(key); key != "" {
				out[id] = append(out[id], key)
			}
		}
	}
	add(model.ProviderGemini, k.Gemini)
	add(model.ProviderAnthropic, k.Anthropic)
	add(model.ProviderOpenAI, k.OpenAI)
	for id, keys := range k.Other {
		add(id, keys)
	}
	return out
}

// Dispatch holds per-dispatch defaults.
type Dispatch struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries" toml:"max_retries" env:"ORCH_MAX_RETRIES"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" toml:"timeout" env:"ORCH_TIMEOUT"`
	BackoffStep time.Duration `json:"backoff_step" yaml:"backoff_step" toml:"backoff_step" env:"ORCH_BACKOFF_STEP"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" env:"ORCH_MAX_TOKENS"`
}

// RateLimit holds limits for buckets whose model declares none.
type RateLimit struct {
	DefaultLimit       int           `json:"default_limit" yaml:"default_limit" toml:"default_limit" env:"ORCH_RATE_LIMIT"`
	DefaultMinInterval time.Duration `json:"default_min_interval" yaml:"default_min_interval" toml:"default_min_interval" env:"ORCH_MIN_INTERVAL"`
}

// Batch holds batch dispatch defaults.
type Batch struct {
	Size        int           `json:"size" yaml:"size" toml:"size" env:"ORCH_BATCH_SIZE"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" toml:"concurrency" env:"ORCH_BATCH_CONCURRENCY"`
	Delay       time.Duration `json:"delay" yaml:"delay" toml:"delay" env:"ORCH_BATCH_DELAY"`
}

// Search holds iterative search defaults.
type Search struct {
	EnableWebSearch     bool    `json:"enable_web_search" yaml:"enable_web_search" toml:"enable_web_search" env:"ORCH_WEB_SEARCH"`
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations" env:"ORCH_MAX_ITERATIONS"`
	ResultsPerSearch    int     `json:"results_per_search" yaml:"results_per_search" toml:"results_per_search" env:"ORCH_RESULTS_PER_SEARCH"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" toml:"confidence_threshold" env:"ORCH_CONFIDENCE_THRESHOLD"`
	QualityThreshold    float64 `json:"quality_threshold" yaml:"quality_threshold" toml:"quality_threshold" env:"ORCH_QUALITY_THRESHOLD"`
	ContextTokens       int     `json:"context_tokens" yaml:"context_tokens" toml:"context_tokens" env:"ORCH_CONTEXT_TOKENS"`
	MaxItemTokens       int     `json:"max_item_tokens" yaml:"max_item_tokens" toml:"max_item_tokens" env:"ORCH_MAX_ITEM_TOKENS"`

	// Aliases maps extra decision labels to ANSWER, SEARCH_AGAIN or
	// SEARCH_WEB.
	Aliases map[string]string `json:"aliases" yaml:"aliases" toml:"aliases"`

	// FallbackDecision is used for labels no alias matches.
	FallbackDecision string `json:"fallback_decision" yaml:"fallback_decision" toml:"fallback_decision" env:"ORCH_FALLBACK_DECISION"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Providers: map[string]provider.Config{
			model.ProviderGemini:    {Kind: "gemini"},
			model.ProviderAnthropic: {Kind: "anthropic"},
			model.ProviderOpenAI:    {Kind: "openai"},
		},
		Models: model.DefaultDescriptors(),
		Rules:  model.DefaultRules(),
		Credentials: Credentials{
			Persistence:   PersistenceMemory,
			RefreshBuffer: credential.DefaultRefreshBuffer,
		},
		Dispatch: Dispatch{
			MaxRetries:  3,
			Timeout:     60 * time.Second,
			BackoffStep: time.Second,
		},
		RateLimit: RateLimit{DefaultLimit: 60},
		Batch: Batch{
			Size:        3,
			Concurrency: 2,
			Delay:       2 * time.Second,
		},
		Search: Search{
			MaxIterations:    3,
			ResultsPerSearch: 10,
			ContextTokens:    16_000,
			FallbackDecision: "SEARCH_AGAIN",
		},
	}
}

// Level parses LogLevel. Unknown values give info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	reg, err := model.NewRegistry(c.Models...)
	if err != nil {
		errs = append(errs, fmt.Errorf("models: %w", err))
	} else if err := c.Rules.Validate(reg); err != nil {
		errs = append(errs, fmt.Errorf("rules: %w", err))
	}

	for _, d := range c.Models {
		if _, ok := c.Providers[d.ProviderID]; !ok {
			errs = append(errs, fmt.Errorf("model %s: provider %q is not configured", d.ID, d.ProviderID))
		}
	}
	for id, pc := range c.Providers {
		if pc.Kind == "" {
			errs = append(errs, fmt.Errorf("provider %s: kind is required", id))
		}
		if err := pc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", id, err))
		}
	}

	switch c.Credentials.Persistence {
	case PersistenceMemory, "":
	case PersistenceFile:
		if c.Credentials.Path == "" {
			errs = append(errs, errors.New("credentials: file persistence needs a path"))
		}
	case PersistenceSQLite:
		if c.Credentials.DSN == "" && c.Credentials.Path == "" {
			errs = append(errs, errors.New("credentials: sqlite persistence needs a dsn or path"))
		}
	default:
		errs = append(errs, fmt.Errorf("credentials: unknown persistence %q", c.Credentials.Persistence))
	}
	if c.Credentials.Watch && c.Credentials.Persistence != PersistenceFile {
		errs = append(errs, errors.New("credentials: watch requires file persistence"))
	}
	if c.Credentials.RefreshBuffer < 0 {
		errs = append(errs, errors.New("credentials: refresh_buffer must not be negative"))
	}
	for id, o := range c.Credentials.OAuth {
		if o.TokenURL == "" {
			errs = append(errs, fmt.Errorf("credentials: oauth %s: token_url is required", id))
		}
	}

	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch: max_retries must not be negative"))
	}
	if c.Dispatch.Timeout < 0 || c.Dispatch.BackoffStep < 0 {
		errs = append(errs, errors.New("dispatch: durations must not be negative"))
	}
	if c.RateLimit.DefaultLimit < 0 || c.RateLimit.DefaultMinInterval < 0 {
		errs = append(errs, errors.New("rate_limit: values must not be negative"))
	}
	if c.Batch.Size < 0 || c.Batch.Concurrency < 0 || c.Batch.Delay < 0 {
		errs = append(errs, errors.New("batch: values must not be negative"))
	}

	s := c.Search
	if s.MaxIterations < 0 || s.ResultsPerSearch < 0 || s.ContextTokens < 0 || s.MaxItemTokens < 0 {
		errs = append(errs, errors.New("search: values must not be negative"))
	}
	for name, v := range map[string]float64{"confidence_threshold": s.ConfidenceThreshold, "quality_threshold": s.QualityThreshold} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("search: %s must be within [0, 1], got %v", name, v))
		}
	}
	if _, err := c.AliasTable(); err != nil {
		errs = append(errs, fmt.Errorf("search: %w", err))
	}

	return errors.Join(errs...)
}
