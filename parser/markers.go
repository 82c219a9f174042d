package parser

import (
	"regexp"
	"strings"
)

// Marker is one XML-style marker found in content, such as
// <decision>ANSWER</decision>.
type Marker struct {
	Tag   string
	Value string
	Raw   string
}

// MarkerMatcher finds markers for a fixed set of tags. Patterns are
// compiled once; a matcher is safe for concurrent use.
type MarkerMatcher struct {
	tags     []string
	patterns map[string]*regexp.Regexp
}

// NewMarkerMatcher creates a matcher for tag names given without angle
// brackets. Tag matching is case-insensitive.
func NewMarkerMatcher(tags ...string) *MarkerMatcher {
	m := &MarkerMatcher{patterns: make(map[string]*regexp.Regexp, len(tags))}
	for _, tag := range tags {
		if _, dup := m.patterns[tag]; dup {
			continue
		}
		q := regexp.QuoteMeta(tag)
		m.patterns[tag] = regexp.MustCompile(`(?is)<` + q + `>(.*?)</` + q + `>`)
		m.tags = append(m.tags, tag)
	}
	return m
}

// Tags returns the tags this matcher looks for.
func (m *MarkerMatcher) Tags() []string {
	return append([]string(nil), m.tags...)
}

// FindAll returns every marker in content, grouped by tag in
// registration order.
func (m *MarkerMatcher) FindAll(content string) []Marker {
	var out []Marker
	for _, tag := range m.tags {
		for _, match := range m.patterns[tag].FindAllStringSubmatch(content, -1) {
			out = append(out, Marker{Tag: tag, Value: strings.TrimSpace(match[1]), Raw: match[0]})
		}
	}
	return out
}

// Find returns the first marker for tag.
func (m *MarkerMatcher) Find(content, tag string) (Marker, bool) {
	p, ok := m.patterns[tag]
	if !ok {
		return Marker{}, false
	}
	match := p.FindStringSubmatch(content)
	if match == nil {
		return Marker{}, false
	}
	return Marker{Tag: tag, Value: strings.TrimSpace(match[1]), Raw: match[0]}, true
}

// Value returns the trimmed value of the first marker for tag, or "".
func (m *MarkerMatcher) Value(content, tag string) string {
	mk, _ := m.Find(content, tag)
	return mk.Value
}

// Contains reports whether a marker for tag exists.
func (m *MarkerMatcher) Contains(content, tag string) bool {
	_, ok := m.Find(content, tag)
	return ok
}

// DecisionMarkers matches the tags the search loop asks the decision
// model to emit.
var DecisionMarkers = NewMarkerMatcher(
	"decision",
	"query",
	"reasoning",
	"confidence",
)
