package model

import (
	"fmt"
	"strings"
)

// Capability is a model's capability tier.
type Capability int

// Capability tiers, in ascending order.
const (
	CapabilitySimple Capability = iota
	CapabilityMedium
	CapabilityComplex
)

// String returns the tier name.
func (c Capability) String() string {
	switch c {
	case CapabilitySimple:
		return "simple"
	case CapabilityMedium:
		return "medium"
	case CapabilityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// ParseCapability parses a tier name.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return CapabilitySimple, nil
	case "medium":
		return CapabilityMedium, nil
	case "complex":
		return CapabilityComplex, nil
	default:
		return 0, fmt.Errorf("unknown capability %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Capability) UnmarshalText(b []byte) error {
	v, err := ParseCapability(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CostTier says whether a model is billed.
type CostTier string

// Cost tiers.
const (
	CostFree CostTier = "free"
	CostPaid CostTier = "paid"
)

// TaskType names a kind of request the orchestrator dispatches.
type TaskType string

// Task types.
const (
	TaskQueryRewriting  TaskType = "query_rewriting"
	TaskComplexAnalysis TaskType = "complex_analysis"
	TaskDecision        TaskType = "decision"
	TaskAnswerSynthesis TaskType = "answer_synthesis"
	TaskJSONRepair      TaskType = "json_repair"
	TaskSummarization   TaskType = "summarization"
)

// AllTaskTypes lists every task type. Rules must cover each one.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskQueryRewriting,
		TaskComplexAnalysis,
		TaskDecision,
		TaskAnswerSynthesis,
		TaskJSONRepair,
		TaskSummarization,
	}
}

// ParseTaskType validates a task type name.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTaskTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// Provider IDs with built-in defaults.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderForModel guesses the provider from a model identifier, for
// configuration that omits it. For example, "claude-sonnet-4-20250514"
// maps to "anthropic" and "gemini-2.5-flash" to "gemini". Returns "" if
// the family is not recognized.
func ProviderForModel(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "gemini"):
		return ProviderGemini
	case strings.Contains(lower, "claude"),
		strings.Contains(lower, "opus"),
		strings.Contains(lower, "sonnet"),
		strings.Contains(lower, "haiku"):
		return ProviderAnthropic
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI
	default:
		return ""
	}
}
