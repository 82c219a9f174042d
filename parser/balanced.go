package parser

import "strings"

// FirstBalanced returns the first bracketed span in text whose braces and
// brackets balance, skipping over string literals and escapes. When the
// text ends before the span closes, the unterminated remainder is
// returned with ok false so callers can still attempt a repair.
func FirstBalanced(text string) (span string, ok bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				// Mismatched closer; treat the span as ending here.
				return text[start : i+1], false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

// LooksJSON reports whether text plausibly holds a JSON value: it starts
// with a bracket, contains a fenced block, or has a quoted key.
func LooksJSON(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if t[0] == '{' || t[0] == '[' {
		return true
	}
	if HasFence(t) && strings.ContainsAny(t, "{[") {
		return true
	}
	return quotedKey(t)
}

// quotedKey looks for `"name":` anywhere in text.
func quotedKey(t string) bool {
	for i := 0; i < len(t); i++ {
		if t[i] != '"' {
			continue
		}
		j := strings.IndexByte(t[i+1:], '"')
		if j <= 0 {
			return false
		}
		rest := strings.TrimLeft(t[i+1+j+1:], " \t")
		if strings.HasPrefix(rest, ":") {
			return true
		}
		i += j + 1
	}
	return false
}
