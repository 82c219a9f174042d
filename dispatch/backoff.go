package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBackoffStep is the first retry delay; the n-th retry waits n steps.
const DefaultBackoffStep = time.Second

// Linear is a backoff.BackOff whose n-th delay is Step*n, capped at Max
// when Max is positive.
type Linear struct {
	Step time.Duration
	Max  time.Duration

	n int
}

var _ backoff.BackOff = (*Linear)(nil)

// NewLinear returns a linear backoff starting at step.
func NewLinear(step time.Duration) *Linear {
	return &Linear{Step: step}
}

// NextBackOff returns the next delay.
func (l *Linear) NextBackOff() time.Duration {
	l.n++
	d := l.Step * time.Duration(l.n)
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}

// Reset restarts the sequence.
func (l *Linear) Reset() {
	l.n = 0
}

// retryPolicy bounds a linear backoff to retries extra attempts. Once
// exhausted NextBackOff returns backoff.Stop.
func retryPolicy(step time.Duration, retries int) backoff.BackOff {
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(NewLinear(step), uint64(retries))
}
