package consolidate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/fetch"
	"github.com/openreliefdata/datahub/pkg/httpclient"
	"github.com/openreliefdata/datahub/pkg/quality"
	"github.com/openreliefdata/datahub/pkg/ratelimit"
	"github.com/openreliefdata/datahub/pkg/sources"
)

// routingTransport resolves requests by endpoint: the fast source always
// succeeds, the slow one fails transiently twice before succeeding.
type routingTransport struct {
	mu        sync.Mutex
	fastCalls int
	slowCalls int
}

func (rt *routingTransport) Get(_ context.Context, url string) ([]byte, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if strings.Contains(url, "/v1/fast") {
		rt.fastCalls++
		return []byte(`[{"id":"fast-1"}]`), nil
	}

	rt.slowCalls++
	if rt.slowCalls <= 2 {
		return nil, httpclient.NewHTTPError(503, url, "warming up")
	}
	return []byte(`[{"id":"slow-1"}]`), nil
}

func (rt *routingTransport) counts() (int, int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.fastCalls, rt.slowCalls
}

// Exercises the full stack: registry, limiter, cache, executor with retry,
// coordinator fan-out, normalization, and classification.
func TestConsolidatedEndToEndCaching(t *testing.T) {
	t.Parallel()

	descs := []sources.Descriptor{
		facadeDescriptor("fast", sources.CacheRaw),
		facadeDescriptor("slow", sources.CacheRaw),
	}
	for i := range descs {
		descs[i].CacheTTL = time.Second
	}
	registry, err := sources.NewRegistry(descs)
	require.NoError(t, err)

	transport := &routingTransport{}
	store := cache.NewStore(16)
	limiter := ratelimit.NewFixedWindow(map[string]sources.RateLimit{
		"fast": {Requests: 100, Window: time.Minute},
		"slow": {Requests: 100, Window: time.Minute},
	})
	executor := fetch.NewExecutor(registry, limiter, store, transport,
		fetch.WithBackoffDelays(time.Millisecond, 2*time.Millisecond))
	coordinator := fetch.NewCoordinator(executor)

	facade := New(registry, coordinator, treeNormalizer(t, "fast", "slow"),
		quality.NewClassifier(), store)

	result, err := facade.FetchConsolidated(context.Background(), []string{"fast", "slow"})
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	for _, sr := range result.Sources {
		require.NoError(t, sr.Err, "source %s", sr.SourceID)
		require.NotNil(t, sr.Record)
		assert.Equal(t, quality.StateFresh, sr.Quality)
		assert.False(t, sr.StaleFallback)
	}

	fastCalls, slowCalls := transport.counts()
	assert.Equal(t, 1, fastCalls)
	assert.Equal(t, 3, slowCalls, "two transient failures then success")

	// Immediate second call: both payloads are still within TTL and come
	// from the cache; transport counts stay unchanged.
	again, err := facade.FetchConsolidated(context.Background(), []string{"fast", "slow"})
	require.NoError(t, err)
	for _, sr := range again.Sources {
		require.NoError(t, sr.Err)
		require.NotNil(t, sr.Record)
		assert.Equal(t, quality.StateFresh, sr.Quality)
	}

	fastCalls, slowCalls = transport.counts()
	assert.Equal(t, 1, fastCalls, "fast must be served from cache")
	assert.Equal(t, 3, slowCalls, "slow already succeeded once and is served from cache")
}
