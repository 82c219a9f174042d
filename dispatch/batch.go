package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rashee1997/orchestrator-sub006/model"
)

// Default batch settings.
const (
	DefaultBatchSize        = 3
	DefaultBatchConcurrency = 2
	DefaultBatchDelay       = 2 * time.Second
)

// Job is one dispatch in a batch.
type Job struct {
	Task    model.TaskType
	Prompt  string
	System  string
	Options Options
}

// JobResult pairs a job's outcome with its position in the input.
type JobResult struct {
	Index  int
	Result *Result
	Err    error
}

// BatchOptions controls batch pacing.
type BatchOptions struct {
	// Size is the number of jobs per batch.
	Size int

	// Concurrency bounds in-flight jobs within a batch. 1 is sequential.
	Concurrency int

	// Delay is the minimum spacing between batch starts.
	Delay time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Size <= 0 {
		o.Size = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultBatchConcurrency
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// DispatchBatch runs jobs in batches of Size with at most Concurrency in
// flight and at least Delay between batch starts. Per-job failures are
// reported in the results; the returned error is non-nil only when ctx
// ends before every batch ran. Results are indexed like jobs.
func (d *Dispatcher) DispatchBatch(ctx context.Context, jobs []Job, opts BatchOptions) ([]JobResult, error) {
	opts = opts.withDefaults()
	results := make([]JobResult, len(jobs))
	for i := range results {
		results[i].Index = i
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	pacer := rate.NewLimiter(limit, 1)

	for start := 0; start < len(jobs); start += opts.Size {
		if err := pacer.Wait(ctx); err != nil {
			return results, err
		}
		end := min(start+opts.Size, len(jobs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i := start; i < end; i++ {
			job := jobs[i]
			g.Go(func() error {
				res, err := d.Dispatch(gctx, job.Task, job.Prompt, job.System, job.Options)
				results[i].Result = res
				results[i].Err = err
				return nil
			})
		}
		_ = g.Wait()

		d.logger.Debug("dispatch batch finished",
			slog.Int("from", start),
			slog.Int("to", end),
			slog.Int("total", len(jobs)))
	}
	return results, ctx.Err()
}
