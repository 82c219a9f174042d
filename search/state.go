package search

import (
	"sort"
)

// qualityTopK is how many top items the quality score averages.
const qualityTopK = 5

// State is the mutable state of one run. Only the controller changes it.
type State struct {
	Iteration   int
	Log         []LogEntry
	Termination Termination
	Confidence  float64
	Quality     float64

	items []Item
	index map[string]int

	// query is the next search query; origin where it goes.
	query  string
	origin Origin

	// fresh counts items added or replaced since the last analysis.
	fresh int
}

func newState(query string) *State {
	return &State{index: make(map[string]int), query: query, origin: OriginIndex}
}

// Merge adds items, deduplicating by source. On conflict the item with
// the higher relevance is kept. Returns how many new sources were added.
func (s *State) Merge(items []Item) int {
	added := 0
	for _, it := range items {
		it.Relevance = clamp01(it.Relevance)
		k := it.key()
		if i, ok := s.index[k]; ok {
			if it.Relevance > s.items[i].Relevance {
				s.items[i] = it
				s.fresh++
			}
			continue
		}
		s.index[k] = len(s.items)
		s.items = append(s.items, it)
		added++
	}
	s.fresh += added
	return added
}

// Items returns the accumulated items in merge order.
func (s *State) Items() []Item {
	return append([]Item(nil), s.items...)
}

// Ranked returns the items by descending relevance, stable on ties.
func (s *State) Ranked() []Item {
	out := s.Items()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

// rescore replaces relevance and rationale for the item at merge index i.
func (s *State) rescore(i int, relevance float64, rationale string) bool {
	if i < 0 || i >= len(s.items) {
		return false
	}
	s.items[i].Relevance = clamp01(relevance)
	if rationale != "" {
		s.items[i].Rationale = rationale
	}
	return true
}

// quality is the mean relevance of the top items.
func (s *State) quality() float64 {
	ranked := s.Ranked()
	if len(ranked) == 0 {
		return 0
	}
	n := min(len(ranked), qualityTopK)
	var sum float64
	for _, it := range ranked[:n] {
		sum += it.Relevance
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
