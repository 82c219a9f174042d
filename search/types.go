package search

import (
	"context"
	"time"

	"github.com/rashee1997/orchestrator-sub006/dispatch"
	"github.com/rashee1997/orchestrator-sub006/model"
)

// Origin tells where an item was retrieved from.
type Origin string

// Origins.
const (
	OriginIndex Origin = "index"
	OriginWeb   Origin = "web"
)

// Item is one retrieved piece of context.
type Item struct {
	// SourceID identifies the source; items are deduplicated on it.
	SourceID string `json:"source_id"`

	Content string `json:"content"`

	// Relevance is in [0,1]. Analysis may rewrite it.
	Relevance float64 `json:"relevance"`

	// Rationale is the analysis model's explanation of Relevance.
	Rationale string `json:"rationale,omitempty"`

	Origin   Origin         `json:"origin"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (it Item) key() string {
	if it.SourceID != "" {
		return it.SourceID
	}
	return "content:" + it.Content
}

// RetrieveOptions are passed to a Retriever.
type RetrieveOptions struct {
	Limit int
}

// Retriever searches one corpus: a code index, a document store, the web.
type Retriever interface {
	Search(ctx context.Context, query string, opts RetrieveOptions) ([]Item, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, opts RetrieveOptions) ([]Item, error)

// Search calls f.
func (f RetrieverFunc) Search(ctx context.Context, query string, opts RetrieveOptions) ([]Item, error) {
	return f(ctx, query, opts)
}

// Dispatcher issues model calls. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.TaskType, prompt, system string, opts dispatch.Options) (*dispatch.Result, error)
}

// Termination names why the loop stopped.
type Termination string

// Termination reasons.
const (
	TerminationAnswered      Termination = "answered"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationDispatchError Termination = "dispatch_error"
	TerminationConfidence    Termination = "confidence_threshold"
	TerminationQuality       Termination = "quality_threshold"
	TerminationCanceled      Termination = "canceled"
)

// LogEntry is one control decision. Decision is empty when the iteration
// ended without one, for example because a dispatch failed; Note says why.
type LogEntry struct {
	Iteration  int       `json:"iteration"`
	Decision   Decision  `json:"decision,omitempty"`
	Label      string    `json:"label,omitempty"`
	Query      string    `json:"query,omitempty"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Confidence float64   `json:"confidence"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Metrics summarize one run.
type Metrics struct {
	TotalIterations  int           `json:"total_iterations"`
	IndexSearches    int           `json:"index_searches"`
	WebSearches      int           `json:"web_searches"`
	RetrievalErrors  int           `json:"retrieval_errors"`
	ItemsRetrieved   int           `json:"items_retrieved"`
	UniqueItems      int           `json:"unique_items"`
	AnalysisCalls    int           `json:"analysis_calls"`
	AnalysisFailures int           `json:"analysis_failures"`
	DecisionCalls    int           `json:"decision_calls"`
	Confidence       float64       `json:"confidence"`
	Quality          float64       `json:"quality"`
	Duration         time.Duration `json:"duration"`
}

// Result is the output of a run.
type Result struct {
	ID          string `json:"id"`
	Query       string `json:"query"`
	FinalAnswer string `json:"final_answer"`

	// Partial is set when the answer was assembled from context because
	// synthesis or an earlier dispatch failed.
	Partial bool `json:"partial"`

	// Context is the accumulated context, most relevant first.
	Context []Item `json:"context"`

	Log         []LogEntry  `json:"decision_log"`
	Termination Termination `json:"termination"`
	Metrics     Metrics     `json:"metrics"`

	// Failure is the dispatch error that degraded the run, if any.
	Failure error `json:"-"`
}
