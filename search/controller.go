package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rashee1997/orchestrator-sub006/clock"
	"github.com/rashee1997/orchestrator-sub006/dispatch"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/prompt"
	"github.com/rashee1997/orchestrator-sub006/repair"
	"github.com/rashee1997/orchestrator-sub006/tokens"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("empty search query")

// Defaults.
const (
	DefaultMaxIterations    = 3
	DefaultResultsPerSearch = 10
	DefaultContextTokens    = 16_000
	partialItems            = 3
)

// Options tunes one run. Zero numeric fields take the controller defaults.
type Options struct {
	// EnableWebSearch allows SEARCH_WEB. Without it, or without a web
	// retriever, SEARCH_WEB is treated as SEARCH_AGAIN.
	EnableWebSearch bool

	// MaxIterations bounds the number of DECIDE steps.
	MaxIterations int

	// ResultsPerSearch is the retriever limit.
	ResultsPerSearch int

	// ConfidenceThreshold ends the loop when the decision confidence
	// reaches it. Zero disables.
	ConfidenceThreshold float64

	// QualityThreshold ends the loop when the mean relevance of the top
	// items reaches it after analysis. Zero disables.
	QualityThreshold float64

	// ContextTokens bounds the context packed into decision and answer
	// prompts.
	ContextTokens int

	// MaxItemTokens bounds each item's excerpt. Zero uses the prompt
	// defaults.
	MaxItemTokens int

	// Dispatch is passed to every model call.
	Dispatch dispatch.Options
}

func (o Options) merge(def Options) Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.ResultsPerSearch <= 0 {
		o.ResultsPerSearch = def.ResultsPerSearch
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = def.QualityThreshold
	}
	if o.ContextTokens <= 0 {
		o.ContextTokens = def.ContextTokens
	}
	if o.MaxItemTokens <= 0 {
		o.MaxItemTokens = def.MaxItemTokens
	}
	return o
}

// Controller runs the search loop. Safe for concurrent use; each Run has
// its own State.
type Controller struct {
	dispatcher Dispatcher
	index      Retriever
	web        Retriever
	repair     *repair.Pipeline
	prompts    *prompt.Engine
	aliases    *AliasTable
	clock      clock.Clock
	logger     *slog.Logger
	defaults   Options
}

// Option configures a Controller.
type Option func(*Controller)

// WithWeb sets the web retriever.
func WithWeb(r Retriever) Option {
	return func(c *Controller) {
		c.web = r
	}
}

// WithRepair sets the pipeline used to parse analysis and decision
// replies.
func WithRepair(p *repair.Pipeline) Option {
	return func(c *Controller) {
		if p != nil {
			c.repair = p
		}
	}
}

// WithPrompts sets the prompt engine.
func WithPrompts(e *prompt.Engine) Option {
	return func(c *Controller) {
		if e != nil {
			c.prompts = e
		}
	}
}

// WithAliases sets the decision alias table.
func WithAliases(t *AliasTable) Option {
	return func(c *Controller) {
		if t != nil {
			c.aliases = t
		}
	}
}

// WithClock sets the time source for log timestamps and durations.
func WithClock(cl clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clock.OrReal(cl)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaults sets the options used for zero fields in Run.
func WithDefaults(o Options) Option {
	return func(c *Controller) {
		c.defaults = o.merge(c.defaults)
	}
}

// New creates a Controller over an index retriever.
func New(d Dispatcher, index Retriever, opts ...Option) (*Controller, error) {
	if d == nil {
		return nil, errors.New("search: nil dispatcher")
	}
	if index == nil {
		return nil, errors.New("search: nil index retriever")
	}
	c := &Controller{
		dispatcher: d,
		index:      index,
		repair:     repair.New(),
		prompts:    prompt.New(),
		aliases:    DefaultAliases(),
		clock:      clock.Real{},
		logger:     slog.Default(),
		defaults: Options{
			MaxIterations:    DefaultMaxIterations,
			ResultsPerSearch: DefaultResultsPerSearch,
			ContextTokens:    DefaultContextTokens,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type phase int

const (
	phaseStart phase = iota
	phaseSearch
	phaseWebSearch
	phaseAnalyze
	phaseDecide
	phaseAnswer
)

func (p phase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseSearch:
		return "search"
	case phaseWebSearch:
		return "web_search"
	case phaseAnalyze:
		return "analyze"
	case phaseDecide:
		return "decide"
	case phaseAnswer:
		return "answer"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeComplete
	outcomeFail
)

// step is what a state hands back to the driver loop.
type step struct {
	outcome outcome
	next    phase
	err     error
}

func goTo(p phase) step   { return step{outcome: outcomeContinue, next: p} }
func complete() step      { return step{outcome: outcomeComplete} }
func fail(err error) step { return step{outcome: outcomeFail, err: err} }

// run carries one Run's bookkeeping next to its State.
type run struct {
	id      string
	query   string
	opts    Options
	metrics Metrics
	answer  string
	partial bool
	failure error
}

// Run executes the loop for query.
//
// Dispatch failures do not surface as errors: the run ends with a partial
// answer and Result.Failure set. The returned error is non-nil only for a
// blank query or when ctx ends, in which case the partial result is
// returned alongside it.
func (c *Controller) Run(ctx context.Context, query string, opts Options) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	r := &run{id: uuid.NewString(), query: query, opts: opts.merge(c.defaults)}
	st := newState(query)
	start := c.clock.Now()
	log := c.logger.With(slog.String("search_id", r.id))

	ph := phaseStart
	for {
		if err := ctx.Err(); err != nil {
			st.Termination = TerminationCanceled
			r.failure = err
			c.degrade(r, st)
			return c.result(r, st, start), err
		}

		s := c.step(ctx, r, st, ph)
		log.Debug("search step",
			slog.String("phase", ph.String()),
			slog.Int("iteration", st.Iteration),
			slog.Int("items", len(st.items)))

		switch s.outcome {
		case outcomeContinue:
			ph = s.next
			continue
		case outcomeFail:
			r.failure = s.err
			if ctx.Err() != nil {
				st.Termination = TerminationCanceled
				c.degrade(r, st)
				return c.result(r, st, start), ctx.Err()
			}
			st.Termination = TerminationDispatchError
			c.degrade(r, st)
			log.Warn("search degraded to partial answer",
				slog.String("phase", ph.String()),
				slog.Any("error", s.err))
		}

		res := c.result(r, st, start)
		log.Info("search finished",
			slog.String("termination", string(res.Termination)),
			slog.Int("iterations", res.Metrics.TotalIterations),
			slog.Int("items", len(res.Context)),
			slog.Bool("partial", res.Partial),
			slog.Duration("duration", res.Metrics.Duration))
		return res, nil
	}
}

func (c *Controller) step(ctx context.Context, r *run, st *State, ph phase) step {
	switch ph {
	case phaseStart:
		return goTo(phaseSearch)
	case phaseSearch:
		return c.search(ctx, r, st, c.index, OriginIndex)
	case phaseWebSearch:
		return c.search(ctx, r, st, c.web, OriginWeb)
	case phaseAnalyze:
		return c.analyze(ctx, r, st)
	case phaseDecide:
		return c.decide(ctx, r, st)
	case phaseAnswer:
		return c.synthesize(ctx, r, st)
	default:
		return fail(fmt.Errorf("unknown phase %s", ph))
	}
}

func (c *Controller) search(ctx context.Context, r *run, st *State, retriever Retriever, origin Origin) step {
	if origin == OriginWeb {
		r.metrics.WebSearches++
	} else {
		r.metrics.IndexSearches++
	}

	items, err := retriever.Search(ctx, st.query, RetrieveOptions{Limit: r.opts.ResultsPerSearch})
	if err != nil {
		r.metrics.RetrievalErrors++
		c.logger.Warn("retrieval failed",
			slog.String("search_id", r.id),
			slog.String("origin", string(origin)),
			slog.String("query", st.query),
			slog.Any("error", err))
		return goTo(phaseAnalyze)
	}
	for i := range items {
		if items[i].Origin == "" {
			items[i].Origin = origin
		}
	}
	r.metrics.ItemsRetrieved += len(items)
	st.Merge(items)
	return goTo(phaseAnalyze)
}

// analysisScore is one element of the analysis reply.
type analysisScore struct {
	Index     int     `json:"index"`
	Relevance float64 `json:"relevance"`
	Rationale string  `json:"rationale"`
}

// analyze re-scores every accumulated item in a single model call. A
// reply that cannot be repaired leaves the scores as they were.
func (c *Controller) analyze(ctx context.Context, r *run, st *State) step {
	if st.fresh == 0 || len(st.items) == 0 {
		return goTo(phaseDecide)
	}

	text, err := c.prompts.Render(prompt.Analysis, prompt.AnalysisData{
		Query:         r.query,
		Items:         promptItems(st.items),
		MaxItemTokens: r.opts.MaxItemTokens,
	})
	if err != nil {
		return fail(err)
	}

	r.metrics.AnalysisCalls++
	res, err := c.dispatcher.Dispatch(ctx, model.TaskComplexAnalysis, text, prompt.AnalysisSystem, r.opts.Dispatch)
	if err != nil {
		c.appendLog(st, LogEntry{
			Iteration: st.Iteration,
			Note:      "analysis dispatch failed: " + err.Error(),
		})
		return fail(err)
	}
	st.fresh = 0

	var scores []analysisScore
	rep := c.repair.Decode(ctx, res.Content, repair.HintFor([]analysisScore{}, "relevance scores for retrieved passages"), &scores)
	if !rep.Success {
		r.metrics.AnalysisFailures++
		c.logger.Warn("analysis reply unusable, keeping prior scores",
			slog.String("search_id", r.id),
			slog.Any("error", rep.Err))
	} else {
		for _, s := range scores {
			st.rescore(s.Index, s.Relevance, s.Rationale)
		}
	}

	st.Quality = st.quality()
	if t := r.opts.QualityThreshold; t > 0 && st.Quality >= t {
		st.Termination = TerminationQuality
		c.appendLog(st, LogEntry{
			Iteration:  st.Iteration,
			Decision:   DecisionAnswer,
			Confidence: st.Confidence,
			Note:       fmt.Sprintf("context quality %.2f reached threshold %.2f", st.Quality, t),
		})
		return goTo(phaseAnswer)
	}
	return goTo(phaseDecide)
}

func (c *Controller) decide(ctx context.Context, r *run, st *State) step {
	st.Iteration++
	webEnabled := r.opts.EnableWebSearch && c.web != nil

	text, err := c.prompts.Render(prompt.Decision, prompt.DecisionData{
		Query:         r.query,
		Iteration:     st.Iteration - 1,
		MaxIterations: r.opts.MaxIterations,
		WebEnabled:    webEnabled,
		Items:         pack(st.Ranked(), r.opts.ContextTokens, r.opts.MaxItemTokens),
		History:       history(st.Log),
		MaxItemTokens: r.opts.MaxItemTokens,
	})
	if err != nil {
		return fail(err)
	}

	r.metrics.DecisionCalls++
	res, err := c.dispatcher.Dispatch(ctx, model.TaskDecision, text, prompt.DecisionSystem, r.opts.Dispatch)
	if err != nil {
		c.appendLog(st, LogEntry{
			Iteration: st.Iteration,
			Note:      "decision dispatch failed: " + err.Error(),
		})
		return fail(err)
	}

	rep, parsed := parseReply(ctx, c.repair, c.aliases, res.Content)
	decision, known := c.aliases.Canonicalize(rep.Label)
	entry := LogEntry{
		Iteration:  st.Iteration,
		Decision:   decision,
		Label:      rep.Label,
		Query:      strings.TrimSpace(rep.Query),
		Reasoning:  rep.Reasoning,
		Confidence: clamp01(rep.Confidence),
	}
	var notes []string
	switch {
	case !parsed:
		notes = append(notes, "no decision label found, using "+string(decision))
	case !known:
		notes = append(notes, fmt.Sprintf("unknown label %q mapped to %s", rep.Label, decision))
	}
	if decision == DecisionSearchWeb && !webEnabled {
		decision = DecisionSearchAgain
		entry.Decision = decision
		notes = append(notes, "web search disabled, searching the index instead")
	}
	st.Confidence = entry.Confidence

	next := phaseAnswer
	switch {
	case decision == DecisionAnswer:
		st.Termination = TerminationAnswered
	case r.opts.ConfidenceThreshold > 0 && entry.Confidence >= r.opts.ConfidenceThreshold:
		st.Termination = TerminationConfidence
		notes = append(notes, fmt.Sprintf("confidence %.2f reached threshold %.2f", entry.Confidence, r.opts.ConfidenceThreshold))
	case st.Iteration >= r.opts.MaxIterations:
		st.Termination = TerminationMaxIterations
		notes = append(notes, fmt.Sprintf("iteration limit %d reached", r.opts.MaxIterations))
	default:
		if entry.Query != "" {
			st.query = entry.Query
		}
		st.origin = OriginIndex
		next = phaseSearch
		if decision == DecisionSearchWeb {
			st.origin = OriginWeb
			next = phaseWebSearch
		}
	}
	entry.Note = strings.Join(notes, "; ")
	c.appendLog(st, entry)
	return goTo(next)
}

func (c *Controller) synthesize(ctx context.Context, r *run, st *State) step {
	text, err := c.prompts.Render(prompt.Answer, prompt.AnswerData{
		Query:         r.query,
		Items:         pack(st.Ranked(), r.opts.ContextTokens, r.opts.MaxItemTokens),
		MaxItemTokens: r.opts.MaxItemTokens,
	})
	if err == nil {
		var res *dispatch.Result
		res, err = c.dispatcher.Dispatch(ctx, model.TaskAnswerSynthesis, text, prompt.AnswerSystem, r.opts.Dispatch)
		if err == nil {
			r.answer = strings.TrimSpace(res.Content)
			return complete()
		}
	}
	if ctx.Err() != nil {
		return fail(err)
	}
	r.failure = err
	c.logger.Warn("answer synthesis failed, assembling partial answer",
		slog.String("search_id", r.id),
		slog.Any("error", err))
	c.degrade(r, st)
	return complete()
}

func (c *Controller) appendLog(st *State, e LogEntry) {
	e.Timestamp = c.clock.Now()
	st.Log = append(st.Log, e)
}

// degrade sets a partial answer built from the most relevant items.
func (c *Controller) degrade(r *run, st *State) {
	r.partial = true
	r.answer = partialAnswer(r.query, st.Ranked())
}

func (c *Controller) result(r *run, st *State, start time.Time) *Result {
	ranked := st.Ranked()
	m := r.metrics
	m.TotalIterations = st.Iteration
	m.UniqueItems = len(ranked)
	m.Confidence = st.Confidence
	m.Quality = st.Quality
	m.Duration = c.clock.Now().Sub(start)
	return &Result{
		ID:          r.id,
		Query:       r.query,
		FinalAnswer: r.answer,
		Partial:     r.partial,
		Context:     ranked,
		Log:         append([]LogEntry(nil), st.Log...),
		Termination: st.Termination,
		Metrics:     m,
		Failure:     r.failure,
	}
}

func promptItems(items []Item) []prompt.Item {
	out := make([]prompt.Item, len(items))
	for i, it := range items {
		out[i] = prompt.Item{SourceID: it.SourceID, Content: it.Content, Relevance: it.Relevance}
	}
	return out
}

// pack fits ranked items into budget tokens, most relevant first. Items
// that do not fit are skipped so a smaller one further down can still
// be used.
func pack(ranked []Item, budget, maxItemTokens int) []prompt.Item {
	b := tokens.NewBudget(budget, 0)
	var out []prompt.Item
	for _, it := range ranked {
		content := it.Content
		if maxItemTokens > 0 {
			content = tokens.Truncate(content, maxItemTokens, tokens.FromEnd)
		}
		if !b.Consume(content) {
			continue
		}
		out = append(out, prompt.Item{SourceID: it.SourceID, Content: content, Relevance: it.Relevance})
	}
	return out
}

func history(log []LogEntry) []string {
	out := make([]string, 0, len(log))
	for _, e := range log {
		if e.Decision == "" {
			out = append(out, fmt.Sprintf("%d: no decision (%s)", e.Iteration, e.Note))
			continue
		}
		line := fmt.Sprintf("%d: %s", e.Iteration, e.Decision)
		if e.Query != "" {
			line += fmt.Sprintf(" (query: %s)", e.Query)
		}
		if e.Reasoning != "" {
			line += " - " + e.Reasoning
		}
		out = append(out, line)
	}
	return out
}

// partialAnswer lists the top items when no synthesized answer exists.
func partialAnswer(query string, ranked []Item) string {
	if len(ranked) == 0 {
		return fmt.Sprintf("No answer could be produced for %q and no context was found.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "No synthesized answer is available for %q. Most relevant context:\n", query)
	for i, it := range ranked[:min(len(ranked), partialItems)] {
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, it.SourceID, tokens.Truncate(strings.TrimSpace(it.Content), 200, tokens.FromEnd))
	}
	return b.String()
}
