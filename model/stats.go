package model

import (
	"sort"
	"sync"
	"time"
)

// Usage tracks token usage for a model.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Requests     int
}

// Add adds the given usage to this usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Requests += other.Requests
}

// TotalTokens returns the total tokens used.
func (u *Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ModelStats are the counters of one model.
type ModelStats struct {
	Attempts     int
	Successes    int
	Failures     int
	RateLimited  int
	TotalLatency time.Duration
	Usage        Usage
}

// AverageLatency returns the mean latency of successful calls.
func (s ModelStats) AverageLatency() time.Duration {
	if s.Successes == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Successes)
}

// SuccessRate returns successes over attempts, or 0 with no attempts.
func (s ModelStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Stats tracks per-model dispatch outcomes and token usage.
// Safe for concurrent use.
type Stats struct {
	mu     sync.RWMutex
	totals map[string]ModelStats
}

// NewStats creates an empty tracker.
func NewStats() *Stats {
	return &Stats{totals: make(map[string]ModelStats)}
}

// RecordSuccess records a successful call.
func (t *Stats) RecordSuccess(modelID string, latency time.Duration, usage Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.totals[modelID]
	s.Attempts++
	s.Successes++
	s.TotalLatency += latency
	if usage.Requests == 0 {
		usage.Requests = 1
	}
	s.Usage.Add(usage)
	t.totals[modelID] = s
}

// RecordFailure records a failed call.
func (t *Stats) RecordFailure(modelID string, rateLimited bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.totals[modelID]
	s.Attempts++
	s.Failures++
	if rateLimited {
		s.RateLimited++
	}
	t.totals[modelID] = s
}

// Model returns the counters for one model.
func (t *Stats) Model(modelID string) ModelStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals[modelID]
}

// Models returns the IDs with recorded activity, sorted.
func (t *Stats) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.totals))
	for id := range t.totals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Summary returns a copy of all counters.
func (t *Stats) Summary() map[string]ModelStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ModelStats, len(t.totals))
	for k, v := range t.totals {
		result[k] = v
	}
	return result
}

// TotalUsage returns aggregated usage across all models.
func (t *Stats) TotalUsage() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total Usage
	for _, s := range t.totals {
		total.Add(s.Usage)
	}
	return total
}

// EstimatedCost prices recorded usage with the registry's descriptors.
// Free-tier and unregistered models cost nothing.
func (t *Stats) EstimatedCost(reg *Registry) float64 {
	var total float64
	for _, c := range t.EstimatedCostByModel(reg) {
		total += c
	}
	return total
}

// EstimatedCostByModel returns the estimated cost for each priced model.
func (t *Stats) EstimatedCostByModel(reg *Registry) map[string]float64 {
	summary := t.Summary()
	result := make(map[string]float64, len(summary))
	for id, s := range summary {
		d, ok := reg.Get(id)
		if !ok || d.Cost == CostFree {
			continue
		}
		inputCost := float64(s.Usage.InputTokens) / 1_000_000 * d.Pricing.InputPerMillion
		outputCost := float64(s.Usage.OutputTokens) / 1_000_000 * d.Pricing.OutputPerMillion
		result[id] = inputCost + outputCost
	}
	return result
}

// Reset clears all counters.
func (t *Stats) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = make(map[string]ModelStats)
}
