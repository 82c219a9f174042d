// Package parser extracts structure from free-form model output.
//
// It finds fenced code blocks, the first balanced JSON span, XML-style
// markers, markdown sections, list items, "key: value" lines, and YAML
// documents. Every function is pure and tolerant: malformed input yields
// empty results, never a panic.
//
//	body := parser.StripFences(raw)
//	span, ok := parser.FirstBalanced(body)
//
//	decision := parser.DecisionMarkers.Value(raw, "decision")
//	items := parser.List(raw)
package parser
