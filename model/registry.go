package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry errors.
var (
	// ErrUnknownModel indicates a model ID is not in the registry.
	ErrUnknownModel = errors.New("unknown model")

	// ErrDuplicateModel indicates two descriptors share an ID.
	ErrDuplicateModel = errors.New("duplicate model")
)

// Pricing holds per-million-token prices in USD.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million" toml:"output_per_million"`
}

// Descriptor is the static capability record of one model.
// Only Available changes after startup.
type Descriptor struct {
	// ID is the model identifier sent to the provider.
	ID string `json:"id" yaml:"id" toml:"id"`

	// ProviderID selects the transport and credentials.
	ProviderID string `json:"provider" yaml:"provider" toml:"provider"`

	Capability Capability `json:"capability" yaml:"capability" toml:"capability"`
	Cost       CostTier   `json:"cost" yaml:"cost" toml:"cost"`

	// RateLimitPerMinute is the per-credential request limit for this model.
	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`

	// MinInterval is the minimum spacing between calls on one credential.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" toml:"min_interval"`

	// ContextWindow is the maximum prompt size in tokens. Zero means unknown.
	ContextWindow int `json:"context_window" yaml:"context_window" toml:"context_window"`

	Pricing Pricing `json:"pricing" yaml:"pricing" toml:"pricing"`

	Available bool `json:"available" yaml:"available" toml:"available"`
}

// Validate checks that required fields are set.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("model id is required")
	}
	if d.ProviderID == "" {
		return fmt.Errorf("model %s: provider is required", d.ID)
	}
	if d.RateLimitPerMinute < 0 {
		return fmt.Errorf("model %s: rate limit must not be negative", d.ID)
	}
	if d.Capability < CapabilitySimple || d.Capability > CapabilityComplex {
		return fmt.Errorf("model %s: invalid capability %d", d.ID, d.Capability)
	}
	return nil
}

// CredentialChecker reports whether a provider has a usable credential.
// *credential.Store implements it.
type CredentialChecker interface {
	HasCredentials(ctx context.Context, providerID string) bool
}

// Registry holds model descriptors in declaration order.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	models map[string]*Descriptor
}

// NewRegistry creates a registry from descriptors.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{models: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.models[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, d.ID)
		}
		r.models[d.ID] = &d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// All returns copies of every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.models[id])
	}
	return out
}

// Available returns the available descriptors in declaration order.
func (r *Registry) Available() []Descriptor {
	all := r.All()
	out := all[:0]
	for _, d := range all {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// IsAvailable reports whether id is registered and available.
func (r *Registry) IsAvailable(id string) bool {
	d, ok := r.Get(id)
	return ok && d.Available
}

// SetAvailable flips a model's availability.
func (r *Registry) SetAvailable(id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if d.Available != available {
		slog.Debug("model availability changed", "model", id, "available", available)
	}
	d.Available = available
	return nil
}

// Probe marks each model available exactly when its provider has a usable
// credential, and returns how many models are available. Run once at
// startup.
func (r *Registry) Probe(ctx context.Context, creds CredentialChecker) int {
	providers := make(map[string]bool)
	for _, d := range r.All() {
		if _, seen := providers[d.ProviderID]; !seen {
			providers[d.ProviderID] = creds.HasCredentials(ctx, d.ProviderID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.order {
		d := r.models[id]
		d.Available = providers[d.ProviderID]
		if d.Available {
			n++
		}
	}
	slog.Info("model registry probed", "models", len(r.order), "available", n)
	return n
}
