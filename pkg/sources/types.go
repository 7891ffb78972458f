// Package sources defines the provider descriptors and the registry that
// holds them. A descriptor is immutable configuration for one external data
// provider; the only runtime mutation is the operator enable/disable toggle.
package sources

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ReliabilityTier is a source's declared trustworthiness, independent of
// how recently it was fetched.
type ReliabilityTier string

// Supported reliability tiers.
const (
	TierHigh   ReliabilityTier = "high"
	TierMedium ReliabilityTier = "medium"
	TierLow    ReliabilityTier = "low"
)

// UpdateFrequency is the cadence a provider declares for its dataset.
type UpdateFrequency string

// Supported update frequencies.
const (
	FrequencyRealtime  UpdateFrequency = "realtime"
	FrequencyDaily     UpdateFrequency = "daily"
	FrequencyWeekly    UpdateFrequency = "weekly"
	FrequencyMonthly   UpdateFrequency = "monthly"
	FrequencyIrregular UpdateFrequency = "irregular"
)

// PayloadKind selects the normalization strategy for a source's payloads.
type PayloadKind string

// Supported payload kinds.
const (
	PayloadTabular  PayloadKind = "tabular"
	PayloadTree     PayloadKind = "tree"
	PayloadWorkbook PayloadKind = "workbook"
)

// CacheGranularity states what the orchestration layer caches for a source:
// the raw transport payload, the normalized record, or both. The raw payload
// is always cached by the fetch executor; "normalized" and "both"
// additionally cache the post-normalization record.
type CacheGranularity string

// Supported cache granularities.
const (
	CacheRaw        CacheGranularity = "raw"
	CacheNormalized CacheGranularity = "normalized"
	CacheBoth       CacheGranularity = "both"
)

// RateLimit is a per-source request quota: at most Requests admissions per
// Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Param is one query parameter. Parameters keep their declared order because
// cache keys are derived from the ordered sequence.
type Param struct {
	Key   string
	Value string
}

// Descriptor is the immutable configuration for one provider.
type Descriptor struct {
	ID          string
	BaseAddress string

	// EndpointPath and QueryParams describe the source's primary dataset
	// endpoint, used when the facade builds requests on the caller's behalf.
	EndpointPath string
	QueryParams  []Param

	Enabled bool

	// Priority orders sources when they conflict; lower is preferred.
	Priority int

	CacheTTL   time.Duration
	MaxRetries int
	RateLimit  RateLimit

	ReliabilityTier ReliabilityTier
	UpdateFrequency UpdateFrequency
	PayloadKind     PayloadKind

	CacheGranularity CacheGranularity
}

// Validate checks that the descriptor is internally consistent.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("source id must not be empty")
	}
	u, err := url.Parse(d.BaseAddress)
	if err != nil {
		return fmt.Errorf("source %s: invalid base address: %w", d.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source %s: base address must be http or https, got %q", d.ID, d.BaseAddress)
	}
	if d.CacheTTL <= 0 {
		return fmt.Errorf("source %s: cache TTL must be positive", d.ID)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("source %s: max retries must not be negative", d.ID)
	}
	if d.RateLimit.Requests <= 0 || d.RateLimit.Window <= 0 {
		return fmt.Errorf("source %s: rate limit requires a positive request count and window", d.ID)
	}
	switch d.ReliabilityTier {
	case TierHigh, TierMedium, TierLow:
	default:
		return fmt.Errorf("source %s: unknown reliability tier %q", d.ID, d.ReliabilityTier)
	}
	switch d.UpdateFrequency {
	case FrequencyRealtime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyIrregular:
	default:
		return fmt.Errorf("source %s: unknown update frequency %q", d.ID, d.UpdateFrequency)
	}
	switch d.PayloadKind {
	case PayloadTabular, PayloadTree, PayloadWorkbook:
	default:
		return fmt.Errorf("source %s: unknown payload kind %q", d.ID, d.PayloadKind)
	}
	switch d.CacheGranularity {
	case CacheRaw, CacheNormalized, CacheBoth:
	default:
		return fmt.Errorf("source %s: unknown cache granularity %q", d.ID, d.CacheGranularity)
	}
	return nil
}

// CachesNormalized reports whether the facade should cache the normalized
// record for this source in addition to the raw payload.
func (d *Descriptor) CachesNormalized() bool {
	return d.CacheGranularity == CacheNormalized || d.CacheGranularity == CacheBoth
}
