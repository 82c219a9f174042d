package model

import (
	"errors"
	"fmt"
)

// Selection errors.
var (
	// ErrNoRule indicates a task type has no routing rule.
	ErrNoRule = errors.New("no rule for task")

	// ErrNoModel indicates no candidate model is available.
	ErrNoModel = errors.New("no available model")
)

// Select returns the ordered candidate models for task.
//
// Normally this is the rule's preferred model followed by its fallbacks,
// skipping unavailable ones. When contextLength exceeds the rule's
// MaxContextLength, available complex-tier models whose context window
// fits are moved to the front: members of the rule's chain first, in
// chain order, then any other registered model in declaration order.
func (r *Registry) Select(rules Rules, task TaskType, contextLength int) ([]Descriptor, error) {
	rule, ok := rules[task]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRule, task)
	}

	var out []Descriptor
	seen := make(map[string]bool)
	add := func(d Descriptor) {
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d)
		}
	}

	chain := rule.Chain()
	if rule.MaxContextLength > 0 && contextLength > rule.MaxContextLength {
		for _, id := range chain {
			if d, ok := r.Get(id); ok && d.Available && highCapacity(d, contextLength) {
				add(d)
			}
		}
		for _, d := range r.Available() {
			if highCapacity(d, contextLength) {
				add(d)
			}
		}
	}

	for _, id := range chain {
		if d, ok := r.Get(id); ok && d.Available {
			add(d)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoModel, task)
	}
	return out, nil
}

func highCapacity(d Descriptor, contextLength int) bool {
	return d.Capability == CapabilityComplex && (d.ContextWindow == 0 || d.ContextWindow >= contextLength)
}
