// Package ratelimit implements the per-source request admission gate. The
// algorithm is a fixed-window counter: provider quotas in this domain are
// coarse (per-minute or per-hour), so sliding-window precision buys nothing.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/openreliefdata/datahub/pkg/sources"
)

// Decision is the outcome of one admission attempt. When Admitted is false,
// RetryAfter is the time remaining in the current window.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Status is a read-only view of one source's current window, for
// diagnostics.
type Status struct {
	RequestCount  int           `json:"request_count"`
	Limit         int           `json:"limit"`
	WindowResetIn time.Duration `json:"window_reset_in_ms"`
}

type window struct {
	start time.Time
	count int
}

// FixedWindow admits requests per source up to a quota within a fixed
// window, then rejects until the window rolls over.
type FixedWindow struct {
	mu      sync.Mutex
	quotas  map[string]sources.RateLimit
	windows map[string]*window
	now     func() time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) {
		l.now = now
	}
}

// NewFixedWindow builds a limiter with one quota per source id.
func NewFixedWindow(quotas map[string]sources.RateLimit, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		quotas:  make(map[string]sources.RateLimit, len(quotas)),
		windows: make(map[string]*window, len(quotas)),
		now:     time.Now,
	}
	for id, q := range quotas {
		l.quotas[id] = q
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetQuota installs or replaces the quota for a source. The source's current
// window is reset.
func (l *FixedWindow) SetQuota(sourceID string, quota sources.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quotas[sourceID] = quota
	delete(l.windows, sourceID)
}

// TryAcquire attempts to admit one request for the source. Sources without a
// registered quota are always admitted.
func (l *FixedWindow) TryAcquire(sourceID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	quota, ok := l.quotas[sourceID]
	if !ok {
		return Decision{Admitted: true}
	}

	now := l.now()
	w := l.windows[sourceID]
	if w == nil || now.Sub(w.start) >= quota.Window {
		w = &window{start: now}
		l.windows[sourceID] = w
	}

	if w.count < quota.Requests {
		w.count++
		return Decision{Admitted: true}
	}
	return Decision{
		Admitted:   false,
		RetryAfter: quota.Window - now.Sub(w.start),
	}
}

// Status reports the source's current window without consuming quota.
func (l *FixedWindow) Status(sourceID string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	quota, ok := l.quotas[sourceID]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", sources.ErrUnknownSource, sourceID)
	}

	now := l.now()
	w := l.windows[sourceID]
	if w == nil || now.Sub(w.start) >= quota.Window {
		return Status{RequestCount: 0, Limit: quota.Requests, WindowResetIn: quota.Window}, nil
	}
	return Status{
		RequestCount:  w.count,
		Limit:         quota.Requests,
		WindowResetIn: quota.Window - now.Sub(w.start),
	}, nil
}
