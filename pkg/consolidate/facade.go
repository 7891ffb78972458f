// Package consolidate is the single entry point the presentation layer
// calls: it fans fetches out, normalizes what came back, classifies
// freshness, and never lets one source's failure suppress another source's
// data.
package consolidate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openreliefdata/datahub/pkg/cache"
	"github.com/openreliefdata/datahub/pkg/fetch"
	"github.com/openreliefdata/datahub/pkg/logger"
	"github.com/openreliefdata/datahub/pkg/normalize"
	"github.com/openreliefdata/datahub/pkg/quality"
	"github.com/openreliefdata/datahub/pkg/sources"
)

// normalizedKeySuffix derives the cache key for a source's normalized record
// from its raw-payload key.
const normalizedKeySuffix = ":normalized"

// Coordinator is the fan-out dependency. Satisfied by *fetch.Coordinator.
type Coordinator interface {
	ExecuteMany(ctx context.Context, reqs []fetch.Request) []fetch.Result
}

// RecordNormalizer converts raw payloads into records. Satisfied by
// *normalize.Normalizer.
type RecordNormalizer interface {
	Normalize(sourceID string, payload []byte, fetchedAt time.Time) (*normalize.Record, error)
}

// CacheStore is the slice of the cache the facade needs: fresh reads for
// normalized records, stale reads for last-known-good fallbacks.
type CacheStore interface {
	Get(key string) (cache.Entry, bool)
	GetStale(key string) (cache.Entry, bool)
	Put(key string, payload any, ttl time.Duration)
}

// SourceResult is one source's slot in a consolidated response: either a
// record or an error, plus the freshness state and the provider's declared
// reliability tier.
type SourceResult struct {
	SourceID string
	Record   *normalize.Record
	Err      error
	Quality  quality.State
	Tier     sources.ReliabilityTier
	// LastSuccess is when the payload behind Record was fetched from the
	// provider; nil when no successful fetch exists.
	LastSuccess *time.Time
	// StaleFallback marks a record served from an expired cache entry after
	// the live fetch failed.
	StaleFallback bool
}

// Result is a consolidated response: one SourceResult per requested source,
// in request order.
type Result struct {
	ID          string
	RequestedAt time.Time
	Sources     []SourceResult
}

// Facade composes the coordinator, normalizer, and classifier behind one
// request/response contract.
type Facade struct {
	registry    *sources.Registry
	coordinator Coordinator
	normalizer  RecordNormalizer
	classifier  *quality.Classifier
	cache       CacheStore
	now         func() time.Time
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		f.now = now
	}
}

// New wires a facade to its collaborators.
func New(
	registry *sources.Registry,
	coordinator Coordinator,
	normalizer RecordNormalizer,
	classifier *quality.Classifier,
	store CacheStore,
	opts ...Option,
) *Facade {
	f := &Facade{
		registry:    registry,
		coordinator: coordinator,
		normalizer:  normalizer,
		classifier:  classifier,
		cache:       store,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchConsolidated returns one result per requested source. A total
// transport outage degrades every source to its last cached state or
// unavailable; the call itself does not fail.
func (f *Facade) FetchConsolidated(ctx context.Context, sourceIDs []string) (*Result, error) {
	return f.consolidate(ctx, sourceIDs, false)
}

// ForceRefresh behaves like FetchConsolidated but bypasses the cache on the
// underlying requests.
func (f *Facade) ForceRefresh(ctx context.Context, sourceIDs []string) (*Result, error) {
	return f.consolidate(ctx, sourceIDs, true)
}

func (f *Facade) consolidate(ctx context.Context, sourceIDs []string, bypassCache bool) (*Result, error) {
	if len(sourceIDs) == 0 {
		return nil, errors.New("no sources requested")
	}

	result := &Result{
		ID:          uuid.NewString(),
		RequestedAt: f.now(),
		Sources:     make([]SourceResult, len(sourceIDs)),
	}
	logger.Debugw("consolidation request", "request_id", result.ID, "sources", sourceIDs, "bypass_cache", bypassCache)

	// Resolve descriptors first; unknown sources settle immediately and the
	// rest proceed to the coordinator.
	type slot struct {
		index int
		desc  sources.Descriptor
		req   fetch.Request
	}
	slots := make([]slot, 0, len(sourceIDs))
	for i, id := range sourceIDs {
		desc, err := f.registry.Get(id)
		if err != nil {
			result.Sources[i] = SourceResult{SourceID: id, Err: err, Quality: quality.StateUnavailable}
			continue
		}
		slots = append(slots, slot{
			index: i,
			desc:  desc,
			req: fetch.Request{
				SourceID:     id,
				EndpointPath: desc.EndpointPath,
				Params:       desc.QueryParams,
				BypassCache:  bypassCache,
			},
		})
	}

	reqs := make([]fetch.Request, len(slots))
	for i, s := range slots {
		reqs[i] = s.req
	}
	outcomes := f.coordinator.ExecuteMany(ctx, reqs)

	for i, s := range slots {
		result.Sources[s.index] = f.settle(s.desc, s.req, outcomes[i])
	}

	return result, nil
}

// settle turns one fetch result into a SourceResult, substituting the last
// known good cached payload when the live fetch failed.
func (f *Facade) settle(desc sources.Descriptor, req fetch.Request, res fetch.Result) SourceResult {
	out := SourceResult{SourceID: desc.ID, Tier: desc.ReliabilityTier}

	if res.Err != nil {
		out.Err = res.Err
		stale, ok := f.cache.GetStale(req.CacheKey())
		if !ok {
			out.Quality = quality.StateUnavailable
			return out
		}
		payload, ok := stale.Payload.([]byte)
		if !ok {
			out.Quality = quality.StateUnavailable
			return out
		}
		record, err := f.normalizer.Normalize(desc.ID, payload, stale.StoredAt)
		if err != nil {
			out.Quality = quality.StateUnavailable
			return out
		}
		fetchedAt := stale.StoredAt
		out.Record = record
		out.LastSuccess = &fetchedAt
		out.Quality = f.classifier.Classify(&fetchedAt)
		out.StaleFallback = true
		logger.Infow("serving last known good payload after fetch failure",
			"source", desc.ID, "stored_at", fetchedAt, "error", res.Err)
		return out
	}

	outcome := res.Outcome
	fetchedAt := outcome.FetchedAt

	record, err := f.lookupOrNormalize(desc, req, outcome)
	if err != nil {
		out.Err = err
		out.LastSuccess = &fetchedAt
		out.Quality = f.classifier.Classify(&fetchedAt)
		return out
	}

	out.Record = record
	out.LastSuccess = &fetchedAt
	out.Quality = f.classifier.Classify(&fetchedAt)
	return out
}

// lookupOrNormalize returns the normalized record for a successful fetch,
// consulting the normalized-record cache when the source opted into it.
func (f *Facade) lookupOrNormalize(desc sources.Descriptor, req fetch.Request, outcome *fetch.Outcome) (*normalize.Record, error) {
	normKey := req.CacheKey() + normalizedKeySuffix

	if desc.CachesNormalized() && outcome.FromCache {
		if entry, ok := f.cache.Get(normKey); ok {
			if record, ok := entry.Payload.(*normalize.Record); ok {
				return record, nil
			}
		}
	}

	record, err := f.normalizer.Normalize(desc.ID, outcome.Payload, outcome.FetchedAt)
	if err != nil {
		return nil, err
	}
	if desc.CachesNormalized() {
		f.cache.Put(normKey, record, desc.CacheTTL)
	}
	return record, nil
}
