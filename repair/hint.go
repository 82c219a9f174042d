package repair

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Shape is the expected top-level JSON kind.
type Shape int

// Shapes.
const (
	ShapeAny Shape = iota
	ShapeObject
	ShapeArray
)

// String returns the JSON name of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	default:
		return "value"
	}
}

// empty returns the empty value of the shape.
func (s Shape) empty() any {
	if s == ShapeArray {
		return []any{}
	}
	return map[string]any{}
}

// Hint describes what the caller expects.
type Hint struct {
	Shape Shape

	// Schema, when set, is shown to the repair model.
	Schema *jsonschema.Schema

	// Context describes what the text was produced for, for diagnostics
	// and the repair prompt.
	Context string
}

// Object is a hint for any JSON object.
func Object(context string) Hint {
	return Hint{Shape: ShapeObject, Context: context}
}

// Array is a hint for any JSON array.
func Array(context string) Hint {
	return Hint{Shape: ShapeArray, Context: context}
}

// HintFor derives a hint from a Go value by reflecting its JSON Schema.
// Structs and maps give ShapeObject; slices and arrays give ShapeArray.
func HintFor(v any, context string) Hint {
	r := &jsonschema.Reflector{DoNotReference: true, Anonymous: true, AllowAdditionalProperties: true}
	s := r.Reflect(v)
	h := Hint{Schema: s, Context: context}
	switch s.Type {
	case "object":
		h.Shape = ShapeObject
	case "array":
		h.Shape = ShapeArray
	}
	return h
}

// schemaText renders the hint's schema for a prompt, or "".
func (h Hint) schemaText() string {
	if h.Schema == nil {
		return ""
	}
	b, err := json.MarshalIndent(h.Schema, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// conform checks v against the expected shape. An object wrapping a
// single array satisfies ShapeArray.
func (h Hint) conform(v any) (any, error) {
	switch h.Shape {
	case ShapeObject:
		if _, ok := v.(map[string]any); ok {
			return v, nil
		}
	case ShapeArray:
		switch t := v.(type) {
		case []any:
			return t, nil
		case map[string]any:
			if len(t) == 1 {
				for _, inner := range t {
					if arr, ok := inner.([]any); ok {
						return arr, nil
					}
				}
			}
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("expected JSON %s, got %T", h.Shape, v)
}
