package fetch

import (
	"sync"
	"time"
)

// DefaultSampleCapacity is how many recent samples are kept per source.
const DefaultSampleCapacity = 64

// Sample is one recorded fetch latency.
type Sample struct {
	At      time.Time
	Latency time.Duration
	Success bool
}

// LatencyRecorder keeps a bounded ring of recent latency samples per source
// for the diagnostics API. Metrics cover aggregates; this answers "what did
// the last few fetches for this source look like".
type LatencyRecorder struct {
	mu       sync.Mutex
	capacity int
	rings    map[string][]Sample
}

// NewLatencyRecorder builds a recorder keeping up to capacity samples per
// source. A non-positive capacity falls back to DefaultSampleCapacity.
func NewLatencyRecorder(capacity int) *LatencyRecorder {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	return &LatencyRecorder{
		capacity: capacity,
		rings:    make(map[string][]Sample),
	}
}

// Record appends a sample, dropping the oldest when the ring is full.
func (r *LatencyRecorder) Record(sourceID string, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring := append(r.rings[sourceID], s)
	if len(ring) > r.capacity {
		ring = ring[len(ring)-r.capacity:]
	}
	r.rings[sourceID] = ring
}

// Samples returns a copy of the source's recent samples, oldest first.
func (r *LatencyRecorder) Samples(sourceID string) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring := r.rings[sourceID]
	out := make([]Sample, len(ring))
	copy(out, ring)
	return out
}
