package parser

import (
	"regexp"
	"strings"
)

// Fence is a fenced code block.
type Fence struct {
	// Language is the info string after the opening fence, lowercased.
	Language string

	// Content is the text inside the fences.
	Content string

	// Raw is the complete block including the fences.
	Raw string
}

var (
	fenceRegex     = regexp.MustCompile("(?s)```([\\w-]*)[ \\t]*\\r?\\n(.*?)```")
	fenceLineRegex = regexp.MustCompile("(?m)^[ \\t]*```[\\w-]*[ \\t]*$")
	sectionRegex   = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
)

// Fences returns every fenced block in text, in order.
func Fences(text string) []Fence {
	matches := fenceRegex.FindAllStringSubmatch(text, -1)
	out := make([]Fence, 0, len(matches))
	for _, m := range matches {
		out = append(out, Fence{
			Language: strings.ToLower(m[1]),
			Content:  m[2],
			Raw:      m[0],
		})
	}
	return out
}

// FirstFence returns the first block whose language is one of langs, or
// the first block of any language when langs is empty.
func FirstFence(text string, langs ...string) (Fence, bool) {
	for _, f := range Fences(text) {
		if len(langs) == 0 {
			return f, true
		}
		for _, l := range langs {
			if f.Language == l {
				return f, true
			}
		}
	}
	return Fence{}, false
}

// StripFences returns the content of the first json or untagged fenced
// block. Without a complete block it removes any stray fence lines, which
// handles output truncated before the closing fence.
func StripFences(text string) string {
	if f, ok := FirstFence(text, "json", "", "jsonc", "json5"); ok {
		return strings.TrimSpace(f.Content)
	}
	return strings.TrimSpace(fenceLineRegex.ReplaceAllString(text, ""))
}

// HasFence reports whether text contains a fence marker.
func HasFence(text string) bool {
	return strings.Contains(text, "```")
}

// Sections maps markdown headings to the text beneath them.
func Sections(text string) map[string]string {
	sections := make(map[string]string)
	matches := sectionRegex.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		title := strings.TrimSpace(text[m[4]:m[5]])
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[title] = strings.TrimSpace(text[m[1]:end])
	}
	return sections
}

// Section returns the content under a heading, matched case-insensitively.
func Section(text, title string) string {
	for t, content := range Sections(text) {
		if strings.EqualFold(t, title) {
			return content
		}
	}
	return ""
}
