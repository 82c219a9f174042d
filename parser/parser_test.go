package parser

import (
	"reflect"
	"testing"
)

func TestFences(t *testing.T) {
	text := "intro\n```Go\nfunc main() {}\n```\nmid\n```\nplain\n```"
	got := Fences(text)
	if len(got) != 2 {
		t.Fatalf("Fences() returned %d blocks, want 2", len(got))
	}
	if got[0].Language != "go" || got[0].Content != "func main() {}\n" {
		t.Errorf("first fence = %+v", got[0])
	}
	if got[1].Language != "" || got[1].Content != "plain\n" {
		t.Errorf("second fence = %+v", got[1])
	}

	if f, ok := FirstFence(text, "python"); ok {
		t.Errorf("FirstFence(python) = %+v, want none", f)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"json fence", "```json\n{\"a\":1,}\n```", `{"a":1,}`},
		{"untagged fence with prose", "Here:\n```\n[1,2]\n```\nthanks", "[1,2]"},
		{"unterminated fence", "```json\n{\"a\": 1", `{"a": 1`},
		{"no fence", `  {"a": 1}  `, `{"a": 1}`},
		{"prefers json over other languages", "```python\nx=1\n```\n```json\n{}\n```", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.expected {
				t.Errorf("StripFences() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFirstBalanced(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		span     string
		complete bool
	}{
		{"object", `prefix {"a": {"b": 1}} suffix`, `{"a": {"b": 1}}`, true},
		{"array first", `[1, {"x": 2}] {"y": 3}`, `[1, {"x": 2}]`, true},
		{"braces in strings", `{"s": "a } tricky { \" quote"}`, `{"s": "a } tricky { \" quote"}`, true},
		{"escaped backslash before quote", `{"p": "C:\\"} tail`, `{"p": "C:\\"}`, true},
		{"unterminated", `{"a": [1, 2`, `{"a": [1, 2`, false},
		{"mismatched closer", `{"a": 1]`, `{"a": 1]`, false},
		{"no brackets", `just words`, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, ok := FirstBalanced(tt.in)
			if span != tt.span || ok != tt.complete {
				t.Errorf("FirstBalanced() = %q, %v; want %q, %v", span, ok, tt.span, tt.complete)
			}
		})
	}
}

func TestLooksJSON(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{`{"a":1}`, true},
		{"  [1,2]", true},
		{"```json\n{}\n```", true},
		{`The answer is "score": 5`, true},
		{"- item one\n- item two", false},
		{"decision: ANSWER", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksJSON(tt.in); got != tt.expected {
			t.Errorf("LooksJSON(%q) = %v, want %v", tt.in, got, tt.expected)
		}
	}
}

func TestList(t *testing.T) {
	text := "Items:\n- first\n2. second\n* third\n  + fourth\nnot a list"
	want := []string{"first", "second", "third", "fourth"}
	if got := List(text); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestKeyValues(t *testing.T) {
	text := "Decision: SEARCH_AGAIN\nRefined Query = auth middleware\nconfidence: 0.8\ndone: false\n"
	want := map[string]any{
		"decision":      "SEARCH_AGAIN",
		"refined_query": "auth middleware",
		"confidence":    0.8,
		"done":          false,
	}
	if got := KeyValues(text); !reflect.DeepEqual(got, want) {
		t.Errorf("KeyValues() = %#v, want %#v", got, want)
	}
}

func TestYAML(t *testing.T) {
	t.Run("fenced map", func(t *testing.T) {
		v, ok := YAML("```yaml\nname: x\ntags: [a, b]\n```")
		if !ok {
			t.Fatal("YAML() not ok")
		}
		m := v.(map[string]any)
		if m["name"] != "x" {
			t.Errorf("name = %v", m["name"])
		}
	})

	t.Run("bare list", func(t *testing.T) {
		v, ok := YAML("- a\n- b\n")
		if !ok || !reflect.DeepEqual(v, []any{"a", "b"}) {
			t.Errorf("YAML() = %v, %v", v, ok)
		}
	})

	t.Run("scalar is not structure", func(t *testing.T) {
		if _, ok := YAML("just a sentence"); ok {
			t.Error("YAML() should reject scalars")
		}
	})
}

func TestSections(t *testing.T) {
	text := "# Summary\nshort\n## Details\nlong text\n"
	if got := Section(text, "summary"); got != "short" {
		t.Errorf("Section(summary) = %q", got)
	}
	if got := Section(text, "Details"); got != "long text" {
		t.Errorf("Section(Details) = %q", got)
	}
	if got := Section(text, "missing"); got != "" {
		t.Errorf("Section(missing) = %q", got)
	}
}
