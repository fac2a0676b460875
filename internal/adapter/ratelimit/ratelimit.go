// Package ratelimit implements the per-client fixed-window request budgets.
package ratelimit

import (
	"sync"
	"time"

	"estate-assistant/internal/domain"
)

// budget is one client's window.
type budget struct {
	count   int
	resetAt time.Time
}

// Window is a fixed-window limiter keyed by client. Each key gets limit
// requests per window; the window starts at the key's first request and a
// request at or after resetAt opens a fresh one with count 1.
//
// Entries are created lazily and only removed by Sweep.
type Window struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	budgets map[string]*budget
	now     func() time.Time // for testing
}

var _ domain.Limiter = (*Window)(nil)

// New creates a limiter allowing limit requests per window for each key.
// limit must be at least 1.
func New(limit int, window time.Duration) *Window {
	return &Window{
		limit:   limit,
		window:  window,
		budgets: make(map[string]*budget),
		now:     time.Now,
	}
}

// CheckAndIncrement counts a request from key and reports whether it fits
// the key's budget. A denied request does not consume budget.
func (w *Window) CheckAndIncrement(key string) domain.Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	b, ok := w.budgets[key]
	if !ok || !now.Before(b.resetAt) {
		w.budgets[key] = &budget{count: 1, resetAt: now.Add(w.window)}
		return domain.Decision{Allowed: true}
	}

	if b.count < w.limit {
		b.count++
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{RetryAfter: retryAfter(now, b.resetAt)}
}

// retryAfter is the time left until resetAt, rounded up to a whole second
// and never below one second.
func retryAfter(now, resetAt time.Time) time.Duration {
	d := resetAt.Sub(now)
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Sweep drops every entry whose window has ended by now and returns how
// many were removed.
func (w *Window) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, b := range w.budgets {
		if !now.Before(b.resetAt) {
			delete(w.budgets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.budgets)
}
