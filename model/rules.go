package model

import (
	"errors"
	"fmt"
)

// ErrInvalidRules indicates the task rule table is inconsistent with the
// registry.
var ErrInvalidRules = errors.New("invalid task rules")

// TaskRule is the routing rule for one task type.
type TaskRule struct {
	Task TaskType `json:"task" yaml:"task" toml:"task"`

	PreferredModel string `json:"preferred_model" yaml:"preferred_model" toml:"preferred_model"`

	// FallbackModels are tried in order after PreferredModel.
	FallbackModels []string `json:"fallback_models" yaml:"fallback_models" toml:"fallback_models"`

	// MaxContextLength is the prompt size in tokens above which
	// high-capacity models are preferred. Zero disables the check.
	MaxContextLength int `json:"max_context_length" yaml:"max_context_length" toml:"max_context_length"`

	Complexity Capability `json:"complexity" yaml:"complexity" toml:"complexity"`
}

// Chain returns the preferred model followed by the fallbacks, without
// duplicates.
func (r TaskRule) Chain() []string {
	out := make([]string, 0, 1+len(r.FallbackModels))
	seen := make(map[string]bool, cap(out))
	for _, id := range append([]string{r.PreferredModel}, r.FallbackModels...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Rules maps every task type to its rule.
type Rules map[TaskType]TaskRule

// Validate checks that every TaskType has a rule and every model a rule
// references exists in reg. All problems are reported together.
func (rs Rules) Validate(reg *Registry) error {
	var errs []error
	for _, task := range AllTaskTypes() {
		rule, ok := rs[task]
		if !ok {
			errs = append(errs, fmt.Errorf("task %s has no rule", task))
			continue
		}
		if rule.Task != "" && rule.Task != task {
			errs = append(errs, fmt.Errorf("rule under %s is declared for %s", task, rule.Task))
		}
		if rule.PreferredModel == "" {
			errs = append(errs, fmt.Errorf("task %s has no preferred model", task))
		}
		if rule.MaxContextLength < 0 {
			errs = append(errs, fmt.Errorf("task %s: max context length must not be negative", task))
		}
		for _, id := range rule.Chain() {
			if !reg.Has(id) {
				errs = append(errs, fmt.Errorf("task %s references %w %q", task, ErrUnknownModel, id))
			}
		}
	}
	for task := range rs {
		if _, err := ParseTaskType(string(task)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRules, errors.Join(errs...))
	}
	return nil
}
