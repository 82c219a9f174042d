package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rashee1997/orchestrator-sub006/classify"
	"github.com/rashee1997/orchestrator-sub006/clock"
	"github.com/rashee1997/orchestrator-sub006/credential"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/provider"
	"github.com/rashee1997/orchestrator-sub006/ratelimit"
	"github.com/rashee1997/orchestrator-sub006/tokens"
)

const tracerName = "github.com/rashee1997/orchestrator-sub006/dispatch"

// Credentials supplies credentials per provider. *credential.Store
// implements it.
type Credentials interface {
	Candidates(ctx context.Context, providerID string) ([]credential.Credential, error)
	MarkUnusable(cred credential.Credential, reason error)
}

// Outcome is the result of one attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeNotAdmitted  Outcome = "not_admitted"
	OutcomeTransient    Outcome = "transient"
	OutcomeAuth         Outcome = "authentication"
	OutcomeQuota        Outcome = "quota_exhausted"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeNoCredential Outcome = "no_credential"
)

// Attempt records one try against one model.
type Attempt struct {
	Model        string
	CredentialID string
	Number       int
	Outcome      Outcome
	Latency      time.Duration
	Err          error
}

// Result is a successful dispatch.
type Result struct {
	Content       string
	ModelUsed     string
	ProviderID    string
	CredentialID  string
	ExecutionTime time.Duration
	Usage         provider.TokenUsage
	Attempts      []Attempt
	RequestID     string
}

// Dispatcher sends tasks to models with admission control, retries and
// fallback. Safe for concurrent use; retries of one dispatch run serially.
type Dispatcher struct {
	registry    *model.Registry
	rules       model.Rules
	creds       Credentials
	limiter     *ratelimit.Limiter
	transports  map[string]provider.Transport
	stats       *model.Stats
	clock       clock.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	backoffStep time.Duration
	defaults    Options

	mu    sync.Mutex
	spent map[string]bool // buckets whose credential ran out of quota
}

// New creates a Dispatcher. rules are validated against registry.
func New(registry *model.Registry, rules model.Rules, creds Credentials, opts ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("dispatch: nil registry")
	}
	if creds == nil {
		return nil, errors.New("dispatch: nil credentials")
	}
	if err := rules.Validate(registry); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		registry:    registry,
		rules:       rules,
		creds:       creds,
		transports:  make(map[string]provider.Transport),
		spent:       make(map[string]bool),
		stats:       model.NewStats(),
		clock:       clock.Real{},
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		backoffStep: DefaultBackoffStep,
		defaults:    Options{MaxRetries: DefaultMaxRetries, Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New(ratelimit.WithClock(d.clock))
	}
	return d, nil
}

// Stats returns the per-model statistics.
func (d *Dispatcher) Stats() *model.Stats {
	return d.stats
}

// Limiter returns the rate limiter.
func (d *Dispatcher) Limiter() *ratelimit.Limiter {
	return d.limiter
}

// Registry returns the model registry.
func (d *Dispatcher) Registry() *model.Registry {
	return d.registry
}

// run is the mutable state of one dispatch.
type run struct {
	id        string
	task      model.TaskType
	prompt    string
	system    string
	opts      Options
	attempts  []Attempt
	lastErr   error
	lastModel string
	failures  int
	limited   int
}

func (r *run) fail(a Attempt, rateLimited bool) {
	r.attempts = append(r.attempts, a)
	r.lastErr = a.Err
	r.lastModel = a.Model
	r.failures++
	if rateLimited {
		r.limited++
	}
}

// step tells the model loop what to do after an attempt.
type step int

const (
	stepRetry step = iota
	stepNextModel
	stepAbort
)

// Dispatch runs task against its candidate models until one succeeds.
//
// Rate limits and transient failures move on to the next attempt or
// model; malformed or unrecognised failures abort the whole dispatch.
// When every candidate fails the error matches ErrAllBackendsExhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, task model.TaskType, prompt, system string, opts Options) (*Result, error) {
	r := &run{
		id:     uuid.NewString(),
		task:   task,
		prompt: prompt,
		system: system,
		opts:   opts.merge(d.defaults),
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("dispatch.request_id", r.id),
			attribute.String("dispatch.task", string(task)),
		))
	defer span.End()

	contextLength := r.opts.ContextLength
	if contextLength <= 0 {
		contextLength = tokens.EstimatePrompt(system, prompt)
	}
	span.SetAttributes(attribute.Int("dispatch.context_length", contextLength))

	start := d.clock.Now()
	candidates, err := d.registry.Select(d.rules, task, contextLength)
	if err != nil {
		derr := &Error{Kind: KindNoModel, Stage: StageSelect, Task: task, Err: err}
		recordSpanError(span, derr)
		return nil, derr
	}

	d.logger.Debug("dispatch started",
		slog.String("request_id", r.id),
		slog.String("task", string(task)),
		slog.Int("candidates", len(candidates)),
		slog.Int("context_length", contextLength))

	for _, desc := range candidates {
		if err := ctx.Err(); err != nil {
			derr := &Error{Kind: KindCanceled, Stage: StageSend, Task: task, Model: r.lastModel, Err: err}
			recordSpanError(span, derr)
			return nil, derr
		}
		res, next, err := d.tryModel(ctx, r, desc)
		if res != nil {
			res.ExecutionTime = d.clock.Now().Sub(start)
			res.Attempts = r.attempts
			res.RequestID = r.id
			span.SetAttributes(
				attribute.String("dispatch.model", res.ModelUsed),
				attribute.Int("dispatch.attempts", len(r.attempts)))
			d.logger.Info("dispatch succeeded",
				slog.String("request_id", r.id),
				slog.String("task", string(task)),
				slog.String("model", res.ModelUsed),
				slog.Int("attempts", len(r.attempts)),
				slog.Duration("duration", res.ExecutionTime))
			return res, nil
		}
		if next == stepAbort {
			recordSpanError(span, err)
			return nil, err
		}
	}

	derr := &Error{
		Kind:           KindAllBackendsExhausted,
		Stage:          StageSend,
		Task:           task,
		Model:          r.lastModel,
		AllRateLimited: r.failures > 0 && r.limited == r.failures,
		Err:            r.lastErr,
	}
	d.logger.Warn("dispatch exhausted all backends",
		slog.String("request_id", r.id),
		slog.String("task", string(task)),
		slog.Int("attempts", len(r.attempts)),
		slog.Bool("all_rate_limited", derr.AllRateLimited),
		slog.Any("error", r.lastErr))
	recordSpanError(span, derr)
	return nil, derr
}

// tryModel runs up to MaxRetries attempts against one model.
func (d *Dispatcher) tryModel(ctx context.Context, r *run, desc model.Descriptor) (*Result, step, error) {
	transport, ok := d.transports[desc.ProviderID]
	if !ok {
		r.fail(Attempt{
			Model:   desc.ID,
			Outcome: OutcomeNoCredential,
			Err:     fmt.Errorf("%w: %s", ErrNoTransport, desc.ProviderID),
		}, false)
		return nil, stepNextModel, nil
	}

	retries := retryPolicy(d.backoffStep, r.opts.MaxRetries-1)
	budget := r.opts.Timeout
	for n := 1; n <= r.opts.MaxRetries; n++ {
		res, next, err := d.attempt(ctx, r, desc, transport, n, budget)
		switch next {
		case stepAbort:
			return nil, stepAbort, err
		case stepNextModel:
			return res, stepNextModel, nil
		}
		if res != nil {
			return res, stepNextModel, nil
		}
		if n == r.opts.MaxRetries {
			break
		}
		last := r.attempts[len(r.attempts)-1]
		if last.Outcome == OutcomeRateLimited {
			// A penalized bucket stays blocked for a full window; only
			// another credential with a free slot may serve the retry.
			budget = 0
		}
		if last.Outcome == OutcomeTransient {
			wait := retries.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			if err := d.clock.Sleep(ctx, wait); err != nil {
				return nil, stepAbort, &Error{Kind: KindCanceled, Stage: StageSend, Task: r.task, Model: desc.ID, Err: err}
			}
		}
	}
	return nil, stepNextModel, nil
}

// attempt performs admission and one send. A nil result with stepRetry
// means the attempt failed and the model may be tried again.
func (d *Dispatcher) attempt(ctx context.Context, r *run, desc model.Descriptor, transport provider.Transport, n int, budget time.Duration) (*Result, step, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.attempt",
		trace.WithAttributes(
			attribute.String("dispatch.model", desc.ID),
			attribute.Int("dispatch.attempt", n)))
	defer span.End()

	cred, reservation, err := d.admit(ctx, desc, budget)
	if err != nil {
		a := Attempt{Model: desc.ID, Number: n, Err: err}
		switch {
		case errors.Is(err, ErrNotAdmitted):
			a.Outcome = OutcomeNotAdmitted
			r.fail(a, true)
			d.stats.RecordFailure(desc.ID, true)
		case ctx.Err() != nil:
			return nil, stepAbort, &Error{Kind: KindCanceled, Stage: StageAdmission, Task: r.task, Model: desc.ID, Err: ctx.Err()}
		default:
			a.Outcome = OutcomeNoCredential
			r.fail(a, false)
		}
		recordSpanError(span, err)
		d.logger.Debug("dispatch attempt not admitted",
			slog.String("request_id", r.id),
			slog.String("model", desc.ID),
			slog.Any("error", err))
		return nil, stepNextModel, nil
	}
	span.SetAttributes(attribute.String("dispatch.credential", cred.ID))

	req := provider.Request{
		Model:        desc.ID,
		SystemPrompt: r.system,
		Messages:     []provider.Message{provider.NewTextMessage(provider.RoleUser, r.prompt)},
		MaxTokens:    r.opts.MaxTokens,
		Temperature:  r.opts.Temperature,
		Auth:         authFor(cred),
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	callStart := d.clock.Now()
	resp, err := transport.Send(sendCtx, req)
	latency := d.clock.Now().Sub(callStart)
	cancel()

	if err == nil && resp != nil {
		d.stats.RecordSuccess(desc.ID, latency, model.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})
		r.attempts = append(r.attempts, Attempt{
			Model: desc.ID, CredentialID: cred.ID, Number: n, Outcome: OutcomeSuccess, Latency: latency,
		})
		span.SetStatus(codes.Ok, "")
		return &Result{
			Content:      resp.Text,
			ModelUsed:    desc.ID,
			ProviderID:   desc.ProviderID,
			CredentialID: cred.ID,
			Usage:        resp.Usage,
		}, stepRetry, nil
	}
	if err == nil {
		err = provider.Empty(desc.ProviderID, desc.ID, "nil response")
	}
	if !provider.WasSent(err) {
		reservation.Cancel()
	}
	if ctx.Err() != nil {
		return nil, stepAbort, &Error{Kind: KindCanceled, Stage: StageSend, Task: r.task, Model: desc.ID, Err: ctx.Err()}
	}
	recordSpanError(span, err)

	verdict := classify.Error(err)
	if errors.Is(err, provider.ErrEmptyResponse) {
		verdict = classify.Verdict{ShouldRetry: true, Kind: classify.KindTransient}
	}
	a := Attempt{Model: desc.ID, CredentialID: cred.ID, Number: n, Latency: latency, Err: err}
	log := d.logger.With(
		slog.String("request_id", r.id),
		slog.String("model", desc.ID),
		slog.Any("credential", cred),
		slog.Int("attempt", n),
		slog.Any("error", err))

	d.stats.RecordFailure(desc.ID, verdict.IsRateLimit)

	switch verdict.Kind {
	case classify.KindRateLimited:
		a.Outcome = OutcomeRateLimited
		r.fail(a, true)
		d.limiter.Penalize(reservation.Key())
		log.Warn("rate limited by provider, bucket penalized")
		return nil, stepRetry, nil

	case classify.KindTransient:
		a.Outcome = OutcomeTransient
		r.fail(a, false)
		log.Warn("transient provider failure")
		return nil, stepRetry, nil

	case classify.KindAuthentication:
		a.Outcome = OutcomeAuth
		r.fail(a, false)
		d.creds.MarkUnusable(cred, err)
		log.Warn("credential rejected, retiring it")
		return nil, stepRetry, nil

	case classify.KindQuotaExhausted:
		a.Outcome = OutcomeQuota
		r.fail(a, false)
		d.markSpent(reservation.Key())
		if d.hasQuota(ctx, desc) {
			log.Warn("quota exhausted for credential, trying another")
			return nil, stepRetry, nil
		}
		if serr := d.registry.SetAvailable(desc.ID, false); serr != nil {
			log.Warn("mark model unavailable failed", slog.Any("set_error", serr))
		}
		log.Warn("quota exhausted on every credential, model marked unavailable")
		return nil, stepNextModel, nil

	default:
		a.Outcome = OutcomeMalformed
		r.fail(a, false)
		log.Error("non-retryable provider failure, aborting dispatch")
		return nil, stepAbort, &Error{
			Kind:  kindOf(verdict.Kind),
			Stage: StageSend,
			Task:  r.task,
			Model: desc.ID,
			Err:   err,
		}
	}
}

// admit finds a credential whose (credential, model) bucket admits a
// request, waiting out the shortest rate-limit delay while it fits in
// budget.
func (d *Dispatcher) admit(ctx context.Context, desc model.Descriptor, budget time.Duration) (credential.Credential, *ratelimit.Reservation, error) {
	deadline := d.clock.Now().Add(budget)
	for {
		creds, err := d.creds.Candidates(ctx, desc.ProviderID)
		if err != nil {
			return credential.Credential{}, nil, err
		}

		wait := time.Duration(-1)
		live := 0
		for _, c := range creds {
			key := Bucket(c.ID, desc.ID)
			if d.isSpent(key) {
				continue
			}
			live++
			d.limiter.Configure(key, desc.RateLimitPerMinute, desc.MinInterval)
			if res, ok := d.limiter.Reserve(key); ok {
				return c, res, nil
			}
			if w := d.limiter.WaitTime(key); wait < 0 || w < wait {
				wait = w
			}
		}
		if live == 0 {
			return credential.Credential{}, nil, fmt.Errorf("%w for %s", ErrQuotaExhausted, desc.ID)
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if d.clock.Now().Add(wait).After(deadline) {
			return credential.Credential{}, nil, fmt.Errorf("%w for %s: next slot in %s", ErrNotAdmitted, desc.ID, wait)
		}
		if err := d.clock.Sleep(ctx, wait); err != nil {
			return credential.Credential{}, nil, err
		}
	}
}

func (d *Dispatcher) markSpent(bucket string) {
	d.mu.Lock()
	d.spent[bucket] = true
	d.mu.Unlock()
}

func (d *Dispatcher) isSpent(bucket string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spent[bucket]
}

// hasQuota reports whether some usable credential has not yet exhausted
// its quota for desc.
func (d *Dispatcher) hasQuota(ctx context.Context, desc model.Descriptor) bool {
	creds, err := d.creds.Candidates(ctx, desc.ProviderID)
	if err != nil {
		return false
	}
	for _, c := range creds {
		if !d.isSpent(Bucket(c.ID, desc.ID)) {
			return true
		}
	}
	return false
}

// Bucket is the rate-limit key of a credential used against a model.
func Bucket(credentialID, modelID string) string {
	return credentialID + "/" + modelID
}

func authFor(c credential.Credential) provider.Auth {
	scheme := provider.AuthAPIKey
	if c.IsOAuth() {
		scheme = provider.AuthBearer
	}
	return provider.Auth{Scheme: scheme, Secret: c.Secret, CredentialID: c.ID}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
