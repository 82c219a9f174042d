package config

import (
	"github.com/rashee1997/orchestrator-sub006/dispatch"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/ratelimit"
	"github.com/rashee1997/orchestrator-sub006/search"
)

// Registry builds the model registry. Every model starts unavailable
// until the registry is probed.
func (c *Config) Registry() (*model.Registry, error) {
	descs := make([]model.Descriptor, len(c.Models))
	for i, d := range c.Models {
		d.Available = false
		descs[i] = d
	}
	return model.NewRegistry(descs...)
}

// AliasTable builds the decision alias table.
func (c *Config) AliasTable() (*search.AliasTable, error) {
	extra := make(map[string]search.Decision, len(c.Search.Aliases))
	for label, d := range c.Search.Aliases {
		extra[label] = search.Decision(d)
	}
	fallback := search.Decision(c.Search.FallbackDecision)
	if fallback == "" {
		fallback = search.DecisionSearchAgain
	}
	return search.NewAliasTable(extra, fallback)
}

// DispatchOptions returns the dispatcher defaults.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		MaxRetries: c.Dispatch.MaxRetries,
		Timeout:    c.Dispatch.Timeout,
		MaxTokens:  c.Dispatch.MaxTokens,
	}
}

// LimiterOptions returns the rate limiter defaults.
func (c *Config) LimiterOptions() []ratelimit.Option {
	return []ratelimit.Option{
		ratelimit.WithDefaultLimit(c.RateLimit.DefaultLimit),
		ratelimit.WithDefaultMinInterval(c.RateLimit.DefaultMinInterval),
	}
}

// BatchOptions returns the batch dispatch defaults.
func (c *Config) BatchOptions() dispatch.BatchOptions {
	return dispatch.BatchOptions{
		Size:        c.Batch.Size,
		Concurrency: c.Batch.Concurrency,
		Delay:       c.Batch.Delay,
	}
}

// SearchOptions returns the search defaults.
func (c *Config) SearchOptions() search.Options {
	s := c.Search
	return search.Options{
		EnableWebSearch:     s.EnableWebSearch,
		MaxIterations:       s.MaxIterations,
		ResultsPerSearch:    s.ResultsPerSearch,
		ConfidenceThreshold: s.ConfidenceThreshold,
		QualityThreshold:    s.QualityThreshold,
		ContextTokens:       s.ContextTokens,
		MaxItemTokens:       s.MaxItemTokens,
		Dispatch:            c.DispatchOptions(),
	}
}
