package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Merge(t *testing.T) {
	st := newState("q")

	added := st.Merge([]Item{
		{SourceID: "a", Content: "a1", Relevance: 0.3},
		{SourceID: "b", Content: "b", Relevance: 1.7},
		{Content: "anonymous", Relevance: -1},
	})
	assert.Equal(t, 3, added)

	added = st.Merge([]Item{
		{SourceID: "a", Content: "a2", Relevance: 0.8},
		{SourceID: "b", Content: "b2", Relevance: 0.5},
		{Content: "anonymous", Relevance: 0.2},
	})
	assert.Equal(t, 0, added)

	items := st.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "a2", items[0].Content)
	assert.InDelta(t, 0.8, items[0].Relevance, 1e-9)
	assert.Equal(t, "b", items[1].Content)
	assert.InDelta(t, 1.0, items[1].Relevance, 1e-9)
	assert.InDelta(t, 0.2, items[2].Relevance, 1e-9)
	assert.Equal(t, 5, st.fresh)
}

func TestState_RankedIsStable(t *testing.T) {
	st := newState("q")
	st.Merge([]Item{
		{SourceID: "first", Relevance: 0.5},
		{SourceID: "top", Relevance: 0.9},
		{SourceID: "second", Relevance: 0.5},
	})

	var ids []string
	for _, it := range st.Ranked() {
		ids = append(ids, it.SourceID)
	}
	assert.Equal(t, []string{"top", "first", "second"}, ids)
}

func TestState_RescoreAndQuality(t *testing.T) {
	st := newState("q")
	assert.Zero(t, st.quality())

	st.Merge(docs("a", "b", "c", "d", "e", "f"))
	assert.True(t, st.rescore(0, 1, "exact"))
	assert.False(t, st.rescore(6, 1, ""))
	assert.False(t, st.rescore(-1, 1, ""))

	// top five: 1, .5, .5, .5, .5
	assert.InDelta(t, 0.6, st.quality(), 1e-9)
	assert.Equal(t, "exact", st.Items()[0].Rationale)
}
