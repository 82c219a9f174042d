package ratelimit

import (
	"sync"
	"time"

	"github.com/rashee1997/orchestrator-sub006/clock"
)

// Window is the trailing interval over which requests are counted.
const Window = 60 * time.Second

// DefaultLimit applies to keys that were never configured.
const DefaultLimit = 10

// window holds the admission state of one key.
type window struct {
	limit       int
	minInterval time.Duration
	stamps      []time.Time // ascending
	last        time.Time
	// epoch changes whenever stamps are replaced wholesale.
	epoch uint64
}

// prune drops timestamps older than the trailing window.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Limiter tracks one sliding window per key.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window

	defaultLimit       int
	defaultMinInterval time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithDefaultLimit sets the per-minute limit for unconfigured keys.
func WithDefaultLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.defaultLimit = n
		}
	}
}

// WithDefaultMinInterval sets the minimum spacing between calls for
// unconfigured keys.
func WithDefaultMinInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.defaultMinInterval = d
		}
	}
}

// New creates a Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		clock:        clock.Real{},
		windows:      make(map[string]*window),
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure sets the limit and minimum spacing for a key. Existing
// timestamps are kept. A non-positive limit or interval leaves the
// current value in place.
func (l *Limiter) Configure(key string, limit int, minInterval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowLocked(key)
	if limit > 0 {
		w.limit = limit
	}
	if minInterval > 0 {
		w.minInterval = minInterval
	}
}

// windowLocked returns the window for key, creating it if needed.
// Caller must hold l.mu.
func (l *Limiter) windowLocked(key string) *window {
	w, ok := l.windows[key]
	if !ok {
		w = &window{limit: l.defaultLimit, minInterval: l.defaultMinInterval}
		l.windows[key] = w
	}
	return w
}

// CanAdmit reports whether a request on key may be issued now.
func (l *Limiter) CanAdmit(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowLocked(key)
	w.prune(l.clock.Now())
	return len(w.stamps) < w.limit
}

// WaitTime returns how long a caller should wait before key can admit.
//
// Under capacity it is the remainder of the minimum spacing since the last
// call; at capacity it is the time until the oldest timestamp leaves the
// window, but never less than the minimum spacing.
func (l *Limiter) WaitTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.windowLocked(key)
	w.prune(now)
	return w.waitTime(now)
}

func (w *window) waitTime(now time.Time) time.Duration {
	if len(w.stamps) < w.limit {
		if w.last.IsZero() {
			return 0
		}
		return max(0, w.minInterval-now.Sub(w.last))
	}
	return max(w.minInterval, w.stamps[0].Add(Window).Sub(now))
}

// Record appends the current time to key's window. Call it only once a
// request has actually been issued.
func (l *Limiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.windowLocked(key)
	w.prune(now)
	w.stamps = append(w.stamps, now)
	w.last = now
}

// Penalize fills key's window with limit copies of now, blocking it until
// the window drains naturally.
func (l *Limiter) Penalize(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.windowLocked(key)
	w.stamps = w.stamps[:0]
	w.epoch++
	for range w.limit {
		w.stamps = append(w.stamps, now)
	}
	w.last = now
}

// Reserve atomically checks admission and records a timestamp for key.
// It returns false without recording when key is at capacity or inside its
// minimum spacing.
func (l *Limiter) Reserve(key string) (*Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.windowLocked(key)
	w.prune(now)
	if w.waitTime(now) > 0 || len(w.stamps) >= w.limit {
		return nil, false
	}
	w.stamps = append(w.stamps, now)
	prevLast := w.last
	w.last = now
	return &Reservation{limiter: l, key: key, at: now, prevLast: prevLast, epoch: w.epoch}, true
}

// Stats describes the current state of a key's window.
type Stats struct {
	Limit       int
	InWindow    int
	MinInterval time.Duration
	Wait        time.Duration
}

// Stats returns a snapshot of key's window.
func (l *Limiter) Stats(key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.windowLocked(key)
	w.prune(now)
	return Stats{
		Limit:       w.limit,
		InWindow:    len(w.stamps),
		MinInterval: w.minInterval,
		Wait:        w.waitTime(now),
	}
}

// Reset forgets all timestamps for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok {
		w.stamps = nil
		w.last = time.Time{}
		w.epoch++
	}
}

// Reservation is a timestamp taken by Reserve.
type Reservation struct {
	limiter  *Limiter
	key      string
	at       time.Time
	prevLast time.Time
	epoch    uint64
	once     sync.Once
}

// Key returns the reserved key.
func (r *Reservation) Key() string { return r.key }

// Cancel returns the reserved slot. Use it when the request failed before
// it was sent, so it never consumes quota. A reservation taken before the
// key was penalized or reset has no slot left to return. Calling Cancel
// more than once is a no-op.
func (r *Reservation) Cancel() {
	r.once.Do(func() {
		l := r.limiter
		l.mu.Lock()
		defer l.mu.Unlock()

		w, ok := l.windows[r.key]
		if !ok || w.epoch != r.epoch {
			return
		}
		for i := len(w.stamps) - 1; i >= 0; i-- {
			if w.stamps[i].Equal(r.at) {
				w.stamps = append(w.stamps[:i], w.stamps[i+1:]...)
				break
			}
		}
		if w.last.Equal(r.at) {
			w.last = r.prevLast
		}
	})
}
