package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FetchMetricsMeterName is the name used for the fetch metrics meter.
const FetchMetricsMeterName = "github.com/openreliefdata/datahub/fetch"

// FetchMetrics holds the OpenTelemetry instruments for fetch-layer metrics.
// It satisfies the fetch.Metrics interface. A nil *FetchMetrics is a valid
// no-op sink.
type FetchMetrics struct {
	fetchDuration metric.Float64Histogram
	fetchTotal    metric.Int64Counter
	cacheLookups  metric.Int64Counter
	retries       metric.Int64Counter
	rateLimited   metric.Int64Counter
}

// NewFetchMetrics creates a FetchMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewFetchMetrics(provider metric.MeterProvider) (*FetchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(FetchMetricsMeterName)

	fetchDuration, err := meter.Float64Histogram(
		"datahub_fetch_duration_seconds",
		metric.WithDescription("Duration of source fetches in seconds, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	fetchTotal, err := meter.Int64Counter(
		"datahub_fetch_total",
		metric.WithDescription("Total number of source fetches by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"datahub_cache_lookups_total",
		metric.WithDescription("Cache lookups by source and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"datahub_fetch_retries_total",
		metric.WithDescription("Retry attempts by source"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"datahub_rate_limited_total",
		metric.WithDescription("Requests rejected by the per-source rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{
		fetchDuration: fetchDuration,
		fetchTotal:    fetchTotal,
		cacheLookups:  cacheLookups,
		retries:       retries,
		rateLimited:   rateLimited,
	}, nil
}

// RecordFetch records one completed fetch with its outcome and duration.
func (m *FetchMetrics) RecordFetch(ctx context.Context, sourceID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.String("outcome", outcome),
	)
	m.fetchDuration.Record(ctx, d.Seconds(), attrs)
	m.fetchTotal.Add(ctx, 1, attrs)
}

// RecordCacheLookup records one cache lookup and whether it hit.
func (m *FetchMetrics) RecordCacheLookup(ctx context.Context, sourceID string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.Bool("hit", hit),
	))
}

// RecordRetry records one retry attempt for a source.
func (m *FetchMetrics) RecordRetry(ctx context.Context, sourceID string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceID)))
}

// RecordRateLimited records one rejection by the rate limiter.
func (m *FetchMetrics) RecordRateLimited(ctx context.Context, sourceID string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceID)))
}
