package parser

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	bulletRegex   = regexp.MustCompile(`(?m)^\s*[-*+•]\s+(.+)$`)
	numberedRegex = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
	keyValueRegex = regexp.MustCompile(`(?m)^\s*["']?([A-Za-z_][\w .-]*?)["']?\s*[:=]\s*(.+?)\s*,?\s*$`)
)

// List returns bullet and numbered list items in document order.
func List(text string) []string {
	type hit struct {
		pos  int
		item string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{bulletRegex, numberedRegex} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			hits = append(hits, hit{m[0], strings.TrimSpace(text[m[2]:m[3]])})
		}
	}
	// Insertion sort; lists are short.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.item)
	}
	return out
}

// KeyValues collects "key: value" and "key = value" lines. Keys are
// lowercased with spaces and dashes turned into underscores; values are
// typed as bool, number, or string. Later lines win.
func KeyValues(text string) map[string]any {
	out := make(map[string]any)
	for _, m := range keyValueRegex.FindAllStringSubmatch(text, -1) {
		key := normalizeKey(m[1])
		if key == "" {
			continue
		}
		out[key] = scalar(m[2])
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

func scalar(v string) any {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"'`)
	switch strings.ToLower(v) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	case "null", "none":
		return nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

// YAML decodes a yaml-fenced block, or the whole text when it has no
// fence, into a map or a slice. Scalars and decode errors yield ok false.
func YAML(text string) (value any, ok bool) {
	src := text
	if f, found := FirstFence(text, "yaml", "yml"); found {
		src = f.Content
	}
	var v any
	if err := yaml.Unmarshal([]byte(src), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		return t, true
	default:
		return nil, false
	}
}
