package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/httpclient"
	"github.com/openreliefdata/datahub/pkg/ratelimit"
	"github.com/openreliefdata/datahub/pkg/sources"
)

// scriptedTransport returns one canned response per call, repeating the last
// one once the script runs out.
type scriptedTransport struct {
	mu     sync.Mutex
	script []func() ([]byte, error)
	calls  int
}

func (s *scriptedTransport) Get(_ context.Context, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	s.calls++
	return s.script[idx]()
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func respond(payload string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(payload), nil }
}

func fail(status int) func() ([]byte, error) {
	return func() ([]byte, error) { return nil, httpclient.NewHTTPError(status, "http://x", "error") }
}

func testDescriptor(id string, maxRetries int) sources.Descriptor {
	return sources.Descriptor{
		ID:               id,
		BaseAddress:      "https://api.example.org",
		EndpointPath:     "/v1/data",
		Enabled:          true,
		Priority:         1,
		CacheTTL:         time.Hour,
		MaxRetries:       maxRetries,
		RateLimit:        sources.RateLimit{Requests: 100, Window: time.Minute},
		ReliabilityTier:  sources.TierHigh,
		UpdateFrequency:  sources.FrequencyDaily,
		PayloadKind:      sources.PayloadTree,
		CacheGranularity: sources.CacheRaw,
	}
}

type executorFixture struct {
	executor  *Executor
	store     *cache.Store
	transport *scriptedTransport
}

func newExecutorFixture(t *testing.T, desc sources.Descriptor, script ...func() ([]byte, error)) *executorFixture {
	t.Helper()

	registry, err := sources.NewRegistry([]sources.Descriptor{desc})
	require.NoError(t, err)

	store := cache.NewStore(16)
	limiter := ratelimit.NewFixedWindow(map[string]sources.RateLimit{desc.ID: desc.RateLimit})
	transport := &scriptedTransport{script: script}

	return &executorFixture{
		executor: NewExecutor(registry, limiter, store, transport,
			WithBackoffDelays(time.Millisecond, 2*time.Millisecond)),
		store:     store,
		transport: transport,
	}
}

func TestExecuteSuccessCachesPayload(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 3), respond(`{"ok":true}`))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	outcome, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), outcome.Payload)
	assert.False(t, outcome.FromCache)
	assert.Equal(t, 1, f.transport.callCount())

	entry, ok := f.store.Get(req.CacheKey())
	require.True(t, ok, "a successful fetch must populate the cache")
	assert.Equal(t, []byte(`{"ok":true}`), entry.Payload)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 3),
		fail(503), fail(500), respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	outcome, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), outcome.Payload)
	assert.Equal(t, 3, f.transport.callCount())
}

func TestExecuteFourAttemptsThenSuccess(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 3),
		fail(500), fail(500), fail(500), respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	outcome, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), outcome.Payload)
	assert.Equal(t, 4, f.transport.callCount(), "one initial attempt plus three retries")
}

func TestBackOffDelaysIncrease(t *testing.T) {
	t.Parallel()

	e := NewExecutor(nil, nil, nil, nil, WithBackoffDelays(100*time.Millisecond, 10*time.Second))
	b := e.newBackOff()

	// With a 2x multiplier and 0.3 jitter the jitter windows of successive
	// attempts never overlap, so each delay is strictly larger than the
	// previous one.
	prev := b.NextBackOff()
	for i := 0; i < 4; i++ {
		next := b.NextBackOff()
		assert.Greater(t, next, prev, "attempt %d delay must exceed attempt %d", i+2, i+1)
		prev = next
	}
}

func TestExecuteRetriesTooManyRequests(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 2),
		fail(429), respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	outcome, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), outcome.Payload)
	assert.Equal(t, 2, f.transport.callCount())
}

func TestExecuteExhaustsRetries(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 2), fail(500))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	_, err := f.executor.Execute(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var transient *TransientTransportError
	assert.ErrorAs(t, err, &transient, "the last cause should be wrapped")

	// maxRetries=2 means one initial attempt plus two retries.
	assert.Equal(t, 3, f.transport.callCount())

	_, ok := f.store.Get(req.CacheKey())
	assert.False(t, ok, "a failed fetch must not populate the cache")
}

func TestExecutePermanentFailureDoesNotRetry(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 5), fail(404))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	_, err := f.executor.Execute(context.Background(), req)
	require.Error(t, err)

	var perm *PermanentTransportError
	assert.ErrorAs(t, err, &perm)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, f.transport.callCount(), "a 404 must fail on the first attempt")
}

func TestExecuteCacheHitSkipsTransportAndQuota(t *testing.T) {
	t.Parallel()

	desc := testDescriptor("src", 0)
	desc.RateLimit = sources.RateLimit{Requests: 1, Window: time.Hour}
	f := newExecutorFixture(t, desc, respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	first, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	// The quota is now spent, but repeated reads keep working: a cache hit
	// never reaches the limiter or the transport.
	for i := 0; i < 5; i++ {
		outcome, err := f.executor.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, outcome.FromCache)
		assert.Equal(t, []byte("payload"), outcome.Payload)
	}
	assert.Equal(t, 1, f.transport.callCount())
}

func TestExecuteCacheHitKeepsOriginalFetchTime(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 0), respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	_, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)

	entry, ok := f.store.Get(req.CacheKey())
	require.True(t, ok)

	hit, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, entry.StoredAt, hit.FetchedAt, "cache hits report the original store time")
}

func TestExecuteBypassCacheForcesLiveFetch(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 0), respond("v1"), respond("v2"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data"}

	_, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)

	req.BypassCache = true
	outcome, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, outcome.FromCache)
	assert.Equal(t, []byte("v2"), outcome.Payload)
	assert.Equal(t, 2, f.transport.callCount())

	// The bypassing fetch still refreshes the cache.
	entry, ok := f.store.Get(req.CacheKey())
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), entry.Payload)
}

func TestExecuteDisabledSource(t *testing.T) {
	t.Parallel()

	desc := testDescriptor("src", 0)
	desc.Enabled = false
	f := newExecutorFixture(t, desc, respond("payload"))

	_, err := f.executor.Execute(context.Background(), Request{SourceID: "src", EndpointPath: "/v1/data"})
	require.Error(t, err)

	var disabled *SourceDisabledError
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, "src", disabled.SourceID)
	assert.Equal(t, 0, f.transport.callCount())
}

func TestExecuteUnknownSource(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, testDescriptor("src", 0), respond("payload"))

	_, err := f.executor.Execute(context.Background(), Request{SourceID: "nope", EndpointPath: "/v1/data"})
	assert.ErrorIs(t, err, sources.ErrUnknownSource)
}

func TestExecuteRateLimited(t *testing.T) {
	t.Parallel()

	desc := testDescriptor("src", 0)
	desc.RateLimit = sources.RateLimit{Requests: 1, Window: time.Hour}
	f := newExecutorFixture(t, desc, respond("payload"))
	req := Request{SourceID: "src", EndpointPath: "/v1/data", BypassCache: true}

	_, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), req)
	require.Error(t, err)

	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "src", limited.SourceID)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, f.transport.callCount(), "a rejected request must not reach the transport")
}

// countingMetrics records invocations for assertion.
type countingMetrics struct {
	mu           sync.Mutex
	retries      int
	rateLimited  int
	fetches      map[string]int
	cacheLookups map[bool]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{fetches: make(map[string]int), cacheLookups: make(map[bool]int)}
}

func (m *countingMetrics) RecordFetch(_ context.Context, _, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[outcome]++
}

func (m *countingMetrics) RecordCacheLookup(_ context.Context, _ string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheLookups[hit]++
}

func (m *countingMetrics) RecordRetry(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) RecordRateLimited(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func TestExecuteRecordsMetricsAndSamples(t *testing.T) {
	t.Parallel()

	desc := testDescriptor("src", 3)
	registry, err := sources.NewRegistry([]sources.Descriptor{desc})
	require.NoError(t, err)

	metrics := newCountingMetrics()
	samples := NewLatencyRecorder(8)
	transport := &scriptedTransport{script: []func() ([]byte, error){fail(500), respond("payload")}}

	executor := NewExecutor(registry,
		ratelimit.NewFixedWindow(map[string]sources.RateLimit{desc.ID: desc.RateLimit}),
		cache.NewStore(16), transport,
		WithBackoffDelays(time.Millisecond, 2*time.Millisecond),
		WithMetrics(metrics),
		WithLatencyRecorder(samples),
	)

	req := Request{SourceID: "src", EndpointPath: "/v1/data"}
	_, err = executor.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.retries)
	assert.Equal(t, 1, metrics.fetches["success"])
	assert.Equal(t, 1, metrics.cacheLookups[false])

	recorded := samples.Samples("src")
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].Success)

	// A second call is a cache hit and records only the lookup.
	_, err = executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.cacheLookups[true])
	assert.Len(t, samples.Samples("src"), 1)
}
