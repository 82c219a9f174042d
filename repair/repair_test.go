package repair

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairFencedTrailingComma(t *testing.T) {
	res := New().Repair(context.Background(), "```json\n{\"a\":1,}\n```", Hint{})
	require.True(t, res.Success, "err: %v", res.Err)
	assert.Equal(t, map[string]any{"a": float64(1)}, res.Value)
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.NoError(t, res.Err)
}

func TestRepairStages(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		hint     Hint
		strategy Strategy
		value    any
	}{
		{
			name:     "strict object with prose",
			raw:      `Sure! Here it is: {"ok": true, "n": [1, 2]} Hope that helps.`,
			strategy: StrategyStrict,
			value:    map[string]any{"ok": true, "n": []any{float64(1), float64(2)}},
		},
		{
			name:     "strict array",
			raw:      "[1, 2]",
			hint:     Array(""),
			strategy: StrategyStrict,
			value:    []any{float64(1), float64(2)},
		},
		{
			name:     "array wrapped in object",
			raw:      `{"items": ["a"]}`,
			hint:     Array(""),
			strategy: StrategyStrict,
			value:    []any{"a"},
		},
		{
			name:     "raw newline in string",
			raw:      "{\"text\": \"line one\nline two\"}",
			strategy: StrategyHeuristic,
			value:    map[string]any{"text": "line one\nline two"},
		},
		{
			name:     "bad escape",
			raw:      `{"path": "C:\Users\me"}`,
			strategy: StrategyHeuristic,
			value:    map[string]any{"path": `C:\Users\me`},
		},
		{
			name:     "python literals",
			raw:      `{"a": True, "b": None, "c": "True story"}`,
			strategy: StrategyHeuristic,
			value:    map[string]any{"a": true, "b": nil, "c": "True story"},
		},
		{
			name:     "truncated output",
			raw:      "```json\n{\"a\": [1, 2, {\"b\": \"unfinished",
			strategy: StrategyHeuristic,
			value:    map[string]any{"a": []any{float64(1), float64(2), map[string]any{"b": "unfinished"}}},
		},
		{
			name:     "mismatched closer",
			raw:      `{"a": [1, 2}`,
			strategy: StrategyHeuristic,
			value:    map[string]any{"a": []any{float64(1), float64(2)}},
		},
		{
			name:     "doubled commas and control chars",
			raw:      "{\"a\": 1,, \x01\"b\": 2,}",
			strategy: StrategyHeuristic,
			value:    map[string]any{"a": float64(1), "b": float64(2)},
		},
		{
			name:     "key value text",
			raw:      "decision: ANSWER\nconfidence: 0.9",
			hint:     Object(""),
			strategy: StrategyTextual,
			value:    map[string]any{"decision": "ANSWER", "confidence": 0.9},
		},
		{
			name:     "bullet list",
			raw:      "Queries:\n* token refresh\n* oauth scopes",
			hint:     Array(""),
			strategy: StrategyTextual,
			value:    []any{"token refresh", "oauth scopes"},
		},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Repair(context.Background(), tt.raw, tt.hint)
			require.True(t, res.Success, "err: %v", res.Err)
			assert.Equal(t, tt.strategy, res.Strategy)
			assert.Equal(t, tt.value, res.Value)
			assert.Greater(t, res.Confidence, 0.0)
		})
	}
}

func TestRepairFallbackShape(t *testing.T) {
	p := New()

	obj := p.Repair(context.Background(), "I cannot help with that.", Object("analysis"))
	assert.False(t, obj.Success)
	assert.Equal(t, StrategyFallback, obj.Strategy)
	assert.Equal(t, map[string]any{}, obj.Value)
	assert.ErrorIs(t, obj.Err, ErrUnrepairable)
	assert.Zero(t, obj.Confidence)

	arr := p.Repair(context.Background(), `{"not": "an array"`, Array("analysis"))
	assert.False(t, arr.Success)
	assert.Equal(t, []any{}, arr.Value)
}

func TestRepairIsDeterministic(t *testing.T) {
	inputs := []string{
		"```json\n{\"a\":1,}\n```",
		`{"broken": [1, 2, {"x": "y`,
		"not json at all",
		"- a\n- b",
		`{"s": "tab	inside"}`,
	}
	p := New()
	for _, in := range inputs {
		first := p.Repair(context.Background(), in, Hint{})
		second := p.Repair(context.Background(), in, Hint{})
		assert.Equal(t, first, second, "input %q", in)
	}
}

func TestModelAssistedRepair(t *testing.T) {
	var calls atomic.Int32
	var seen string
	model := ModelCallerFunc(func(_ context.Context, prompt, system string) (string, error) {
		calls.Add(1)
		seen = prompt
		assert.NotEmpty(t, system)
		return "```json\n{\"fixed\": true}\n```", nil
	})

	p := New(WithModel(model))
	res := p.Repair(context.Background(), "the model rambled with no structure", Object("decision step"))
	require.True(t, res.Success)
	assert.Equal(t, StrategyModel, res.Strategy)
	assert.Equal(t, map[string]any{"fixed": true}, res.Value)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, seen, "decision step")
	assert.Contains(t, seen, "the model rambled")
}

func TestModelRepairRunsAtMostOnce(t *testing.T) {
	var calls atomic.Int32
	model := ModelCallerFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "still not json", nil
	})

	res := New(WithModel(model)).Repair(context.Background(), `{{{`, Array(""))
	assert.False(t, res.Success)
	assert.Equal(t, StrategyFallback, res.Strategy)
	assert.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	failing := ModelCallerFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", errors.New("backend down")
	})
	res = New(WithModel(failing)).Repair(context.Background(), `{{{`, Object(""))
	assert.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "backend down")
	assert.Equal(t, int32(1), calls.Load())
}

func TestModelNotCalledWhenLocalRepairWorks(t *testing.T) {
	model := ModelCallerFunc(func(context.Context, string, string) (string, error) {
		t.Fatal("model should not be called")
		return "", nil
	})
	res := New(WithModel(model)).Repair(context.Background(), `{"a": 1,}`, Hint{})
	assert.True(t, res.Success)
}

func TestRepairRecoversPanics(t *testing.T) {
	model := ModelCallerFunc(func(context.Context, string, string) (string, error) {
		panic("boom")
	})
	res := New(WithModel(model)).Repair(context.Background(), "plain words", Object(""))
	assert.False(t, res.Success)
	assert.Equal(t, StrategyFallback, res.Strategy)
	assert.ErrorIs(t, res.Err, ErrUnrepairable)
	assert.True(t, strings.Contains(res.Err.Error(), "boom"))
}

type scored struct {
	Index     int     `json:"index"`
	Relevance float64 `json:"relevance"`
	Rationale string  `json:"rationale,omitempty"`
}

func TestHintForAndDecode(t *testing.T) {
	h := HintFor([]scored{}, "analysis")
	assert.Equal(t, ShapeArray, h.Shape)
	require.NotNil(t, h.Schema)
	assert.Contains(t, h.schemaText(), "relevance")

	obj := HintFor(scored{}, "one")
	assert.Equal(t, ShapeObject, obj.Shape)

	var out []scored
	res := New().Decode(context.Background(), `[{"index": 0, "relevance": 0.9,}]`, h, &out)
	require.True(t, res.Success)
	assert.Equal(t, []scored{{Index: 0, Relevance: 0.9}}, out)

	var wrong []scored
	res = New().Decode(context.Background(), `[{"index": "zero"}]`, h, &wrong)
	assert.False(t, res.Success)
	assert.Equal(t, []any{}, res.Value)
}
