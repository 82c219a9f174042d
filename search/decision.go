package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rashee1997/orchestrator-sub006/parser"
	"github.com/rashee1997/orchestrator-sub006/repair"
)

// Decision is a canonical control decision.
type Decision string

// Canonical decisions.
const (
	DecisionAnswer      Decision = "ANSWER"
	DecisionSearchAgain Decision = "SEARCH_AGAIN"
	DecisionSearchWeb   Decision = "SEARCH_WEB"
)

// Valid reports whether d is one of the canonical decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAnswer, DecisionSearchAgain, DecisionSearchWeb:
		return true
	}
	return false
}

// defaultAliases maps labels decision models emit to canonical decisions.
var defaultAliases = map[string]Decision{
	"ANSWER":          DecisionAnswer,
	"FINAL_ANSWER":    DecisionAnswer,
	"RESPOND":         DecisionAnswer,
	"DONE":            DecisionAnswer,
	"COMPLETE":        DecisionAnswer,
	"SEARCH_AGAIN":    DecisionSearchAgain,
	"SEARCH":          DecisionSearchAgain,
	"REFINE":          DecisionSearchAgain,
	"SEARCH_INDEX":    DecisionSearchAgain,
	"SEARCH_CODEBASE": DecisionSearchAgain,
	"MORE_CONTEXT":    DecisionSearchAgain,
	"EXPAND_SEARCH":   DecisionSearchAgain,
	"SEARCH_WEB":      DecisionSearchWeb,
	"WEB":             DecisionSearchWeb,
	"WEB_SEARCH":      DecisionSearchWeb,
	"EXTERNAL_SEARCH": DecisionSearchWeb,
}

// AliasTable canonicalizes decision labels. Labels are compared after
// upper-casing and turning spaces and hyphens into underscores. Unknown
// labels map to the fallback decision.
type AliasTable struct {
	aliases  map[string]Decision
	fallback Decision
	labels   []string
}

// DefaultAliases returns the built-in table with SEARCH_AGAIN as fallback.
func DefaultAliases() *AliasTable {
	t, _ := NewAliasTable(nil, DecisionSearchAgain)
	return t
}

// NewAliasTable builds a table from the built-in aliases plus extra.
// Entries in extra override built-ins.
func NewAliasTable(extra map[string]Decision, fallback Decision) (*AliasTable, error) {
	if !fallback.Valid() {
		return nil, fmt.Errorf("invalid fallback decision %q", fallback)
	}
	t := &AliasTable{aliases: make(map[string]Decision, len(defaultAliases)+len(extra)), fallback: fallback}
	for k, v := range defaultAliases {
		t.aliases[k] = v
	}
	for k, v := range extra {
		if !v.Valid() {
			return nil, fmt.Errorf("alias %q: invalid decision %q", k, v)
		}
		t.aliases[normalizeLabel(k)] = v
	}
	for k := range t.aliases {
		t.labels = append(t.labels, k)
	}
	// Longest first so SEARCH_WEB wins over SEARCH in keyword scans.
	sort.Slice(t.labels, func(i, j int) bool {
		if len(t.labels[i]) != len(t.labels[j]) {
			return len(t.labels[i]) > len(t.labels[j])
		}
		return t.labels[i] < t.labels[j]
	})
	return t, nil
}

// Fallback returns the decision used for unknown labels.
func (t *AliasTable) Fallback() Decision {
	return t.fallback
}

// Canonicalize maps label to a decision. known is false when the label
// was not in the table and the fallback was used.
func (t *AliasTable) Canonicalize(label string) (d Decision, known bool) {
	if d, ok := t.aliases[normalizeLabel(label)]; ok {
		return d, true
	}
	return t.fallback, false
}

// scan finds the first alias mentioned in free text, preferring longer
// labels.
func (t *AliasTable) scan(text string) (Decision, string, bool) {
	norm := strings.Map(func(r rune) rune {
		switch {
		case r == '-':
			return '_'
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			return r
		default:
			return ' '
		}
	}, strings.ToUpper(text))
	best, bestAt, bestLabel := Decision(""), -1, ""
	for _, label := range t.labels {
		at := indexWord(norm, label)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(label) > len(bestLabel)) {
			best, bestAt, bestLabel = t.aliases[label], at, label
		}
	}
	return best, bestLabel, bestAt >= 0
}

// indexWord finds label in s where it is not part of a longer word.
func indexWord(s, label string) int {
	for from := 0; from <= len(s)-len(label); {
		i := strings.Index(s[from:], label)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(label)
		if (i == 0 || !isLabelChar(s[i-1])) && (end == len(s) || !isLabelChar(s[end])) {
			return i
		}
		from = i + 1
	}
	return -1
}

func isLabelChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func normalizeLabel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '-':
			return '_'
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, s)
}

// reply is the decision model's answer after parsing.
type reply struct {
	Label      string  `json:"decision"`
	Query      string  `json:"query"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// parseReply extracts a decision from raw model text: JSON through the
// repair pipeline first, then <decision> markers, then a keyword scan.
// ok is false when nothing resembling a label was found.
func parseReply(ctx context.Context, pipeline *repair.Pipeline, aliases *AliasTable, raw string) (r reply, ok bool) {
	if parser.LooksJSON(raw) {
		var out reply
		res := pipeline.Decode(ctx, raw, repair.HintFor(reply{}, "search loop decision"), &out)
		if res.Success && strings.TrimSpace(out.Label) != "" {
			return out, true
		}
	}

	m := parser.DecisionMarkers
	if label := m.Value(raw, "decision"); label != "" {
		r = reply{
			Label:     label,
			Query:     m.Value(raw, "query"),
			Reasoning: m.Value(raw, "reasoning"),
		}
		if c, err := strconv.ParseFloat(m.Value(raw, "confidence"), 64); err == nil {
			r.Confidence = c
		}
		return r, true
	}

	if _, label, found := aliases.scan(raw); found {
		return reply{Label: label, Reasoning: strings.TrimSpace(raw)}, true
	}
	return reply{Reasoning: strings.TrimSpace(raw)}, false
}
