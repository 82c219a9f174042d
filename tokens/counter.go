package tokens

import (
	"unicode/utf8"
)

// DefaultCharsPerToken is the default character-to-token ratio.
const DefaultCharsPerToken = 4.0

// Counter estimates token counts for text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter, e.g. a real tokenizer.
type CounterFunc func(text string) int

// Count calls f.
func (f CounterFunc) Count(text string) int { return f(text) }

// Ratio estimates tokens as runes per token, rounded to nearest. A ratio
// <= 0 uses DefaultCharsPerToken.
type Ratio float64

// Count implements Counter.
func (r Ratio) Count(text string) int {
	chars := float64(r)
	if chars <= 0 {
		chars = DefaultCharsPerToken
	}
	return int(float64(utf8.RuneCountInString(text))/chars + 0.5)
}

// Default is the counter behind EstimateTokens and EstimatePrompt.
var Default Counter = Ratio(DefaultCharsPerToken)

// EstimateTokens counts text with Default.
func EstimateTokens(text string) int {
	return Default.Count(text)
}

// EstimatePrompt returns the estimated context length of a request made
// of a system instruction and a prompt.
func EstimatePrompt(system, prompt string) int {
	return Default.Count(system) + Default.Count(prompt)
}
