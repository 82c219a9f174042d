package dispatch

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rashee1997/orchestrator-sub006/clock"
	"github.com/rashee1997/orchestrator-sub006/model"
	"github.com/rashee1997/orchestrator-sub006/provider"
	"github.com/rashee1997/orchestrator-sub006/ratelimit"
)

// Default per-dispatch settings.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 60 * time.Second
)

// Options tunes one dispatch. Zero fields take the dispatcher defaults.
type Options struct {
	// MaxRetries is the number of attempts per candidate model.
	MaxRetries int

	// Timeout bounds each attempt, including the admission wait.
	Timeout time.Duration

	// ContextLength overrides the estimated prompt size in tokens.
	ContextLength int

	// MaxTokens caps the response length.
	MaxTokens int

	// Temperature is passed to the provider when set.
	Temperature *float64
}

func (o Options) merge(def Options) Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = def.MaxTokens
	}
	if o.Temperature == nil {
		o.Temperature = def.Temperature
	}
	return o
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransport registers t for the provider it reports.
func WithTransport(t provider.Transport) Option {
	return func(d *Dispatcher) {
		d.transports[t.Provider()] = t
	}
}

// WithLimiter sets the rate limiter. Defaults to a fresh limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.limiter = l
		}
	}
}

// WithStats sets the per-model statistics sink.
func WithStats(s *model.Stats) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.stats = s
		}
	}
}

// WithClock sets the time source used for waits and latency.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock.OrReal(c)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracerProvider sets where spans are sent. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithBackoffStep sets the linear backoff step for transient failures.
func WithBackoffStep(step time.Duration) Option {
	return func(d *Dispatcher) {
		if step >= 0 {
			d.backoffStep = step
		}
	}
}

// WithDefaults sets the options used for zero fields in Dispatch calls.
func WithDefaults(o Options) Option {
	return func(d *Dispatcher) {
		d.defaults = o.merge(d.defaults)
	}
}
