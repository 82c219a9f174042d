package model

import "time"

// Built-in model IDs.
const (
	GeminiFlash     = "gemini-2.5-flash"
	GeminiFlashLite = "gemini-2.5-flash-lite"
	GeminiPro       = "gemini-2.5-pro"
	ClaudeSonnet    = "claude-sonnet-4-20250514"
	ClaudeHaiku     = "claude-3-5-haiku-20241022"
	GPT4oMini       = "gpt-4o-mini"
	GPT41           = "gpt-4.1"
)

// DefaultDescriptors returns the built-in model table. Every model starts
// unavailable until Probe finds a credential for its provider.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID: GeminiFlash, ProviderID: ProviderGemini,
			Capability: CapabilityMedium, Cost: CostFree,
			RateLimitPerMinute: 10, MinInterval: time.Second, ContextWindow: 1_048_576,
		},
		{
			ID: GeminiFlashLite, ProviderID: ProviderGemini,
			Capability: CapabilitySimple, Cost: CostFree,
			RateLimitPerMinute: 15, MinInterval: time.Second, ContextWindow: 1_048_576,
		},
		{
			ID: GeminiPro, ProviderID: ProviderGemini,
			Capability: CapabilityComplex, Cost: CostFree,
			RateLimitPerMinute: 5, MinInterval: 2 * time.Second, ContextWindow: 1_048_576,
		},
		{
			ID: ClaudeSonnet, ProviderID: ProviderAnthropic,
			Capability: CapabilityComplex, Cost: CostPaid,
			RateLimitPerMinute: 50, ContextWindow: 200_000,
			Pricing: Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0},
		},
		{
			ID: ClaudeHaiku, ProviderID: ProviderAnthropic,
			Capability: CapabilitySimple, Cost: CostPaid,
			RateLimitPerMinute: 50, ContextWindow: 200_000,
			Pricing: Pricing{InputPerMillion: 0.8, OutputPerMillion: 4.0},
		},
		{
			ID: GPT4oMini, ProviderID: ProviderOpenAI,
			Capability: CapabilityMedium, Cost: CostPaid,
			RateLimitPerMinute: 60, ContextWindow: 128_000,
			Pricing: Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.6},
		},
		{
			ID: GPT41, ProviderID: ProviderOpenAI,
			Capability: CapabilityComplex, Cost: CostPaid,
			RateLimitPerMinute: 30, ContextWindow: 1_047_576,
			Pricing: Pricing{InputPerMillion: 2.0, OutputPerMillion: 8.0},
		},
	}
}

// DefaultRules returns the built-in routing table. Free models lead each
// chain.
func DefaultRules() Rules {
	return Rules{
		TaskQueryRewriting: {
			Task:             TaskQueryRewriting,
			PreferredModel:   GeminiFlashLite,
			FallbackModels:   []string{GeminiFlash, GPT4oMini, ClaudeHaiku},
			MaxContextLength: 32_000,
			Complexity:       CapabilitySimple,
		},
		TaskComplexAnalysis: {
			Task:             TaskComplexAnalysis,
			PreferredModel:   GeminiPro,
			FallbackModels:   []string{GeminiFlash, ClaudeSonnet, GPT41},
			MaxContextLength: 200_000,
			Complexity:       CapabilityComplex,
		},
		TaskDecision: {
			Task:             TaskDecision,
			PreferredModel:   GeminiFlash,
			FallbackModels:   []string{GeminiFlashLite, GPT4oMini, ClaudeHaiku},
			MaxContextLength: 64_000,
			Complexity:       CapabilityMedium,
		},
		TaskAnswerSynthesis: {
			Task:             TaskAnswerSynthesis,
			PreferredModel:   GeminiPro,
			FallbackModels:   []string{ClaudeSonnet, GeminiFlash, GPT41},
			MaxContextLength: 200_000,
			Complexity:       CapabilityComplex,
		},
		TaskJSONRepair: {
			Task:             TaskJSONRepair,
			PreferredModel:   GeminiFlashLite,
			FallbackModels:   []string{GeminiFlash, GPT4oMini},
			MaxContextLength: 32_000,
			Complexity:       CapabilitySimple,
		},
		TaskSummarization: {
			Task:             TaskSummarization,
			PreferredModel:   GeminiFlash,
			FallbackModels:   []string{GeminiFlashLite, ClaudeHaiku, GPT4oMini},
			MaxContextLength: 128_000,
			Complexity:       CapabilityMedium,
		},
	}
}
