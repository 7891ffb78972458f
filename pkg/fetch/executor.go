// Package fetch implements the per-request fetch executor and the parallel
// fetch coordinator. The executor owns every mutation of shared state: cache
// writes, rate-limit admissions, and latency samples.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/httpclient"
	"github.com/openreliefdata/datahub/pkg/logger"
	"github.com/openreliefdata/datahub/pkg/ratelimit"
	"github.com/openreliefdata/datahub/pkg/sources"
)

const (
	// DefaultBaseDelay is the initial backoff delay between retries.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the delay between retries.
	DefaultMaxDelay = 8 * time.Second

	// DefaultMaxElapsed bounds one whole retry sequence so a struggling
	// source cannot hold a dashboard view for minutes.
	DefaultMaxElapsed = 30 * time.Second
)

// CacheStore is the slice of the cache the executor needs.
type CacheStore interface {
	Get(key string) (cache.Entry, bool)
	Put(key string, payload any, ttl time.Duration)
}

// Limiter is the slice of the rate limiter the executor needs.
type Limiter interface {
	TryAcquire(sourceID string) ratelimit.Decision
}

// Metrics receives fetch-level measurements. Implementations must tolerate
// being called concurrently. A nil Metrics disables recording.
type Metrics interface {
	RecordFetch(ctx context.Context, sourceID, outcome string, d time.Duration)
	RecordCacheLookup(ctx context.Context, sourceID string, hit bool)
	RecordRetry(ctx context.Context, sourceID string)
	RecordRateLimited(ctx context.Context, sourceID string)
}

// Outcome is a successful fetch result. FetchedAt is the time the payload
// was obtained from the provider, which for cache hits is the original store
// time, not now.
type Outcome struct {
	Payload   []byte
	FetchedAt time.Time
	FromCache bool
}

// Executor performs one logical fetch for one (source, endpoint, params)
// triple: cache check, rate-limit admission, transport call with retry, and
// cache write on success.
type Executor struct {
	registry  *sources.Registry
	limiter   Limiter
	cache     CacheStore
	transport httpclient.Client
	metrics   Metrics
	samples   *LatencyRecorder

	baseDelay  time.Duration
	maxDelay   time.Duration
	maxElapsed time.Duration
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoffDelays overrides the retry delay bounds.
func WithBackoffDelays(base, maxDelay time.Duration) ExecutorOption {
	return func(e *Executor) {
		if base > 0 {
			e.baseDelay = base
		}
		if maxDelay > 0 {
			e.maxDelay = maxDelay
		}
	}
}

// WithMaxElapsed overrides the total retry-sequence bound.
func WithMaxElapsed(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.maxElapsed = d
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithLatencyRecorder attaches an in-memory latency sampler.
func WithLatencyRecorder(r *LatencyRecorder) ExecutorOption {
	return func(e *Executor) {
		e.samples = r
	}
}

// WithExecutorClock substitutes the time source, for tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor wires an executor to its collaborators. All shared mutable
// state (cache, limiter) is injected so tests can substitute fakes.
func NewExecutor(
	registry *sources.Registry,
	limiter Limiter,
	store CacheStore,
	transport httpclient.Client,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		limiter:    limiter,
		cache:      store,
		transport:  transport,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		maxElapsed: DefaultMaxElapsed,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one fetch. It returns the raw payload on success; every
// failure mode maps to one of the typed errors in this package. A cache hit
// returns immediately without consuming rate-limit quota: the quota protects
// the remote provider, not local reads.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	desc, err := e.registry.Get(req.SourceID)
	if err != nil {
		return nil, err
	}
	if !desc.Enabled {
		return nil, &SourceDisabledError{SourceID: req.SourceID}
	}

	key := req.CacheKey()
	if !req.BypassCache {
		if entry, ok := e.cache.Get(key); ok {
			if payload, ok := entry.Payload.([]byte); ok {
				e.recordCacheLookup(ctx, req.SourceID, true)
				return &Outcome{Payload: payload, FetchedAt: entry.StoredAt, FromCache: true}, nil
			}
		}
		e.recordCacheLookup(ctx, req.SourceID, false)
	}

	decision := e.limiter.TryAcquire(req.SourceID)
	if !decision.Admitted {
		if e.metrics != nil {
			e.metrics.RecordRateLimited(ctx, req.SourceID)
		}
		return nil, &RateLimitedError{SourceID: req.SourceID, RetryAfter: decision.RetryAfter}
	}

	target, err := req.URL(desc.BaseAddress)
	if err != nil {
		return nil, &PermanentTransportError{Err: err}
	}

	// The retry sequence runs detached from the caller's cancellation: an
	// abandoned caller must not leave a half-run sequence, and a completed
	// fetch should still populate the cache for the next caller. The
	// per-attempt transport timeout and maxElapsed bound it instead.
	fetchCtx := context.WithoutCancel(ctx)

	attempts := 0
	operation := func() ([]byte, error) {
		attempts++
		if attempts > 1 {
			if e.metrics != nil {
				e.metrics.RecordRetry(fetchCtx, req.SourceID)
			}
			logger.Debugf("retrying fetch for source %s (attempt %d)", req.SourceID, attempts)
		}
		body, err := e.transport.Get(fetchCtx, target)
		if err != nil {
			if isTransient(err) {
				return nil, &TransientTransportError{Err: err}
			}
			return nil, backoff.Permanent(&PermanentTransportError{Err: err})
		}
		return body, nil
	}

	start := e.now()
	payload, err := backoff.Retry(fetchCtx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(desc.MaxRetries)+1),
		backoff.WithMaxElapsedTime(e.maxElapsed),
	)
	latency := e.now().Sub(start)

	if err != nil {
		e.recordFetch(ctx, req.SourceID, "failure", latency, false)
		var perm *PermanentTransportError
		if errors.As(err, &perm) {
			return nil, perm
		}
		return nil, fmt.Errorf("source %s: %w after %d attempts: %w",
			req.SourceID, ErrRetriesExhausted, attempts, err)
	}

	e.cache.Put(key, payload, desc.CacheTTL)
	e.recordFetch(ctx, req.SourceID, "success", latency, true)
	logger.Debugw("fetched source payload",
		"source", req.SourceID, "bytes", len(payload), "attempts", attempts, "latency", latency)

	return &Outcome{Payload: payload, FetchedAt: e.now()}, nil
}

// newBackOff builds the exponential policy: delay doubles per attempt with
// jitter, capped at maxDelay.
func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.baseDelay
	b.MaxInterval = e.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.3
	return b
}

func (e *Executor) recordCacheLookup(ctx context.Context, sourceID string, hit bool) {
	if e.metrics != nil {
		e.metrics.RecordCacheLookup(ctx, sourceID, hit)
	}
}

func (e *Executor) recordFetch(ctx context.Context, sourceID, outcome string, d time.Duration, success bool) {
	if e.metrics != nil {
		e.metrics.RecordFetch(ctx, sourceID, outcome, d)
	}
	if e.samples != nil {
		e.samples.Record(sourceID, Sample{At: e.now(), Latency: d, Success: success})
	}
}
