package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rashee1997/orchestrator-sub006/parser"
	"github.com/rashee1997/orchestrator-sub006/prompt"
)

// Strategy names the stage that produced a Result.
type Strategy string

// Strategies, in cascade order.
const (
	StrategyStrict    Strategy = "strict"
	StrategyHeuristic Strategy = "heuristic"
	StrategyTextual   Strategy = "textual"
	StrategyModel     Strategy = "model"
	StrategyFallback  Strategy = "fallback"
)

// Confidence assigned per strategy.
const (
	confidenceStrict    = 1.0
	confidenceHeuristic = 0.8
	confidenceModel     = 0.7
	confidenceTextual   = 0.5
)

// ErrUnrepairable is the Result error when every stage failed.
var ErrUnrepairable = errors.New("could not repair JSON")

// Result is the outcome of a repair.
type Result struct {
	Success bool

	// Value is the decoded JSON (map[string]any, []any, or a scalar). On
	// failure it is the empty value of the expected shape.
	Value any

	Strategy   Strategy
	Confidence float64

	// Err explains a failure; nil on success.
	Err error
}

// ModelCaller sends one repair request to a model and returns its text.
type ModelCaller interface {
	CallRepair(ctx context.Context, prompt, system string) (string, error)
}

// ModelCallerFunc adapts a function to ModelCaller.
type ModelCallerFunc func(ctx context.Context, prompt, system string) (string, error)

// CallRepair calls f.
func (f ModelCallerFunc) CallRepair(ctx context.Context, prompt, system string) (string, error) {
	return f(ctx, prompt, system)
}

// Pipeline runs the repair cascade. Safe for concurrent use; it holds no
// mutable state.
type Pipeline struct {
	model   ModelCaller
	prompts *prompt.Engine
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel enables model-assisted repair.
func WithModel(m ModelCaller) Option {
	return func(p *Pipeline) {
		p.model = m
	}
}

// WithPrompts sets the engine that renders the repair prompt.
func WithPrompts(e *prompt.Engine) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.prompts = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline. Without WithModel it never calls a model.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.prompts == nil {
		p.prompts = prompt.New()
	}
	return p
}

// Repair coerces raw into a JSON value matching hint. It never panics and
// never returns an error; failures are reported in the Result.
func (p *Pipeline) Repair(ctx context.Context, raw string, hint Hint) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("repair panicked", "context", hint.Context, "panic", r)
			res = fallback(hint, fmt.Errorf("%w: panic: %v", ErrUnrepairable, r))
		}
	}()

	var failures []string

	if parser.LooksJSON(raw) {
		v, strategy, err := parseJSON(raw, hint)
		if err == nil {
			return success(v, strategy)
		}
		failures = append(failures, err.Error())
	} else {
		if v, ok := textual(raw, hint); ok {
			return Result{Success: true, Value: v, Strategy: StrategyTextual, Confidence: confidenceTextual}
		}
		failures = append(failures, "text is not JSON-like and no textual form matched")
	}

	if p.model != nil {
		v, err := p.modelRepair(ctx, raw, hint, failures)
		if err == nil {
			return Result{Success: true, Value: v, Strategy: StrategyModel, Confidence: confidenceModel}
		}
		failures = append(failures, err.Error())
	}

	p.logger.Debug("json repair failed", "context", hint.Context, "failures", len(failures))
	return fallback(hint, fmt.Errorf("%w: %s", ErrUnrepairable, failures[len(failures)-1]))
}

// Decode repairs raw and decodes the value into out, which should be a
// pointer. The Result reports failure if decoding into out fails.
func (p *Pipeline) Decode(ctx context.Context, raw string, hint Hint, out any) Result {
	res := p.Repair(ctx, raw, hint)
	if !res.Success {
		return res
	}
	b, err := json.Marshal(res.Value)
	if err == nil {
		err = json.Unmarshal(b, out)
	}
	if err != nil {
		return fallback(hint, fmt.Errorf("%w: decode into %T: %w", ErrUnrepairable, out, err))
	}
	return res
}

func (p *Pipeline) modelRepair(ctx context.Context, raw string, hint Hint, failures []string) (any, error) {
	text, err := p.prompts.Render(prompt.Repair, prompt.RepairData{
		Malformed:   raw,
		Shape:       hint.Shape.String(),
		Schema:      hint.schemaText(),
		Context:     hint.Context,
		PriorErrors: failures,
	})
	if err != nil {
		return nil, err
	}
	out, err := p.model.CallRepair(ctx, text, prompt.RepairSystem)
	if err != nil {
		return nil, fmt.Errorf("model repair: %w", err)
	}
	v, _, err := parseJSON(out, hint)
	if err != nil {
		return nil, fmt.Errorf("model repair output: %w", err)
	}
	return v, nil
}

// parseJSON runs the strict and heuristic stages.
func parseJSON(raw string, hint Hint) (any, Strategy, error) {
	body := parser.StripFences(raw)
	span, complete := parser.FirstBalanced(body)
	if span == "" {
		span = body
	}

	if complete {
		if v, err := decode(span, hint); err == nil {
			return v, StrategyStrict, nil
		}
	}

	v, err := decode(heuristicFix(span), hint)
	if err != nil {
		return nil, "", err
	}
	return v, StrategyHeuristic, nil
}

func decode(s string, hint Hint) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return hint.conform(v)
}

// textual tries non-JSON renderings of structured data.
func textual(raw string, hint Hint) (any, bool) {
	if v, ok := parser.YAML(raw); ok {
		if c, err := hint.conform(v); err == nil {
			return c, true
		}
	}
	if hint.Shape != ShapeArray {
		if kv := parser.KeyValues(raw); len(kv) > 0 {
			return kv, true
		}
	}
	if hint.Shape != ShapeObject {
		if items := parser.List(raw); len(items) > 0 {
			out := make([]any, len(items))
			for i, it := range items {
				out[i] = it
			}
			return out, true
		}
	}
	return nil, false
}

func success(v any, s Strategy) Result {
	c := confidenceStrict
	if s == StrategyHeuristic {
		c = confidenceHeuristic
	}
	return Result{Success: true, Value: v, Strategy: s, Confidence: c}
}

func fallback(hint Hint, err error) Result {
	return Result{Value: hint.Shape.empty(), Strategy: StrategyFallback, Err: err}
}
