package prompt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/template"

	"github.com/rashee1997/orchestrator-sub006/tokens"
)

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"truncate": truncate,
		"json":     toJSON,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"trim":     strings.TrimSpace,
		"join":     strings.Join,
		"default":  defaultValue,
		"indent":   indent,
		"inc":      func(i int) int { return i + 1 },
		"score":    func(f float64) string { return fmt.Sprintf("%.2f", f) },
	}
}

// truncate cuts s to about maxTokens tokens, keeping both ends.
func truncate(s string, maxTokens int) string {
	return tokens.Truncate(s, maxTokens, tokens.FromMiddle)
}

// toJSON pretty-prints v, falling back to %v.
func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// defaultValue returns def if val is nil or its type's zero value.
func defaultValue(val, def any) any {
	if val == nil || reflect.ValueOf(val).IsZero() {
		return def
	}
	return val
}

func indent(s string, spaces int) string {
	prefix := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
