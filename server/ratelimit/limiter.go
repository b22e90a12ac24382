// Package ratelimit provides per-caller request limiting behind an interface
// so the backing store (in-process map vs. external cache) can be swapped
// without touching call sites.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the bookkeeping for one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter decides whether a caller-keyed request may proceed. Updates to one
// key's counter are atomic: concurrent requests from the same caller never
// race a read-modify-write.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Decision, error)
}

// window is one caller's counter for the current fixed window.
type window struct {
	count int
	reset time.Time
}

// WindowLimiter is the in-process Limiter: a keyed fixed-window counter.
// State is created lazily per caller and expires with the window.
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	lastSweep time.Time
}

// NewWindowLimiter creates a limiter allowing limit requests per period.
func NewWindowLimiter(limit int, period time.Duration) *WindowLimiter {
	return &WindowLimiter{
		windows: map[string]*window{},
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

var _ Limiter = (*WindowLimiter)(nil)

func (l *WindowLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(l.period)}
		l.windows[key] = w
	}

	decision := &Decision{
		Limit: l.limit,
		Reset: w.reset,
	}
	if w.count >= l.limit {
		decision.Allowed = false
		decision.Remaining = 0
		decision.RetryAfter = w.reset.Sub(now)
		return decision, nil
	}

	w.count++
	decision.Allowed = true
	decision.Remaining = l.limit - w.count
	return decision, nil
}

// sweepLocked drops expired windows so idle callers do not accumulate.
func (l *WindowLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.period {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
