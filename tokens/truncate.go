package tokens

import (
	"unicode/utf8"
)

// Strategy defines which part of a text Truncate removes.
type Strategy int

const (
	// FromEnd keeps the start.
	FromEnd Strategy = iota

	// FromMiddle keeps the start and the end.
	FromMiddle
)

const (
	endMarker    = "..."
	middleMarker = "\n...[truncated]...\n"
)

// Truncate shortens text to about maxTokens with the default counter,
// marking the cut. Text that already fits is returned unchanged.
func Truncate(text string, maxTokens int, strategy Strategy) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	marker := endMarker
	if strategy == FromMiddle {
		marker = middleMarker
	}
	keep := int(float64(maxTokens)*DefaultCharsPerToken) - utf8.RuneCountInString(marker)
	runes := []rune(text)
	if keep <= 0 {
		return string(runes[:min(len(runes), int(float64(maxTokens)*DefaultCharsPerToken))])
	}

	if strategy == FromMiddle {
		head := keep / 2
		tail := keep - head
		return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
	}
	return string(runes[:keep]) + marker
}
