package repair

import (
	"strings"
)

// heuristicFix rewrites common model mistakes into valid JSON syntax in a
// single pass that tracks string state:
//   - trailing commas before a closing bracket
//   - raw control characters (newlines, tabs) inside strings
//   - stray control characters outside strings
//   - backslashes that do not start a valid escape
//   - smart quotes used as delimiters
//   - Python literals True, False, None outside strings
//   - unterminated strings and unclosed brackets at end of input
//
// Pure: the same input always gives the same output.
func heuristicFix(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.NewReplacer("“", `"`, "”", `"`).Replace(s)

	var (
		b        strings.Builder
		stack    []byte
		inString bool
	)
	b.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case c == '\\':
				if i+1 < len(s) && validEscape(s, i+1) {
					b.WriteByte(c)
					b.WriteByte(s[i+1])
					i++
				} else {
					b.WriteString(`\\`)
				}
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				// Other control characters are dropped.
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '{' || c == '[':
			stack = append(stack, c)
			b.WriteByte(c)
		case c == '}' || c == ']':
			open := byte('{')
			if c == ']' {
				open = '['
			}
			if strings.IndexByte(string(stack), open) < 0 {
				// Stray closer.
				continue
			}
			// Close anything left open inside this bracket first.
			for stack[len(stack)-1] != open {
				trimTrailingComma(&b)
				b.WriteByte(closer(stack[len(stack)-1]))
				stack = stack[:len(stack)-1]
			}
			trimTrailingComma(&b)
			stack = stack[:len(stack)-1]
			b.WriteByte(c)
		case c == ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' || next == ',' {
				// Drop trailing and doubled commas.
				continue
			}
			b.WriteByte(c)
		case c < 0x20 && c != '\n' && c != '\r' && c != '\t':
			// Stray control character.
		case isWordStart(s, i):
			word, lit := pythonLiteral(s[i:])
			if lit != "" {
				b.WriteString(lit)
				i += len(word) - 1
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	if inString {
		b.WriteByte('"')
	}
	trimTrailingComma(&b)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(closer(stack[i]))
	}
	return b.String()
}

func closer(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

func validEscape(s string, i int) bool {
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+4 >= len(s) {
			return false
		}
		for _, h := range s[i+1 : i+5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

// nextSignificant returns the next non-whitespace byte at or after i, or 0.
func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return s[i]
	}
	return 0
}

// trimTrailingComma removes a comma (and whitespace after it) at the end
// of what has been written so far.
func trimTrailingComma(b *strings.Builder) {
	out := b.String()
	t := strings.TrimRight(out, " \n\r\t")
	if strings.HasSuffix(t, ",") {
		t = t[:len(t)-1]
		b.Reset()
		b.WriteString(t)
	}
}

func isWordStart(s string, i int) bool {
	if i > 0 {
		p := s[i-1]
		if p == '_' || (p >= 'a' && p <= 'z') || (p >= 'A' && p <= 'Z') || (p >= '0' && p <= '9') {
			return false
		}
	}
	return s[i] == 'T' || s[i] == 'F' || s[i] == 'N'
}

func pythonLiteral(rest string) (word, lit string) {
	for _, w := range [...]struct{ py, js string }{
		{"True", "true"},
		{"False", "false"},
		{"None", "null"},
	} {
		if !strings.HasPrefix(rest, w.py) {
			continue
		}
		if len(rest) > len(w.py) {
			n := rest[len(w.py)]
			if n == '_' || (n >= 'a' && n <= 'z') || (n >= 'A' && n <= 'Z') || (n >= '0' && n <= '9') {
				continue
			}
		}
		return w.py, w.js
	}
	return "", ""
}
