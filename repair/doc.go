// Package repair coerces raw model output into a JSON value.
//
// Pipeline.Repair runs a bounded cascade and always returns a Result:
//
//  1. structural pre-check: text that does not look like JSON goes to
//     textual fallbacks (YAML, "key: value" lines, list items)
//  2. strict: strip code fences, take the first balanced span, parse
//  3. heuristic: fix trailing commas, control characters, bad escapes,
//     raw newlines in strings, Python literals, unclosed brackets; parse
//  4. model: one repair request through a ModelCaller, whose output goes
//     through steps 2 and 3 (optional)
//  5. fallback: Success false and an empty value of the expected shape
//
// Steps 1 to 3 and 5 are pure, so the same input always yields the same
// Result when no ModelCaller is configured. Panics are recovered into a
// failed Result.
package repair
