package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyRecorderKeepsNewestSamples(t *testing.T) {
	t.Parallel()

	r := NewLatencyRecorder(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r.Record("src", Sample{
			At:      base.Add(time.Duration(i) * time.Second),
			Latency: time.Duration(i+1) * time.Millisecond,
			Success: true,
		})
	}

	samples := r.Samples("src")
	require.Len(t, samples, 3)
	assert.Equal(t, 3*time.Millisecond, samples[0].Latency, "oldest surviving sample first")
	assert.Equal(t, 5*time.Millisecond, samples[2].Latency)
}

func TestLatencyRecorderPerSourceIsolation(t *testing.T) {
	t.Parallel()

	r := NewLatencyRecorder(8)
	r.Record("a", Sample{Latency: time.Millisecond, Success: true})
	r.Record("b", Sample{Latency: 2 * time.Millisecond, Success: false})

	assert.Len(t, r.Samples("a"), 1)
	assert.Len(t, r.Samples("b"), 1)
	assert.Empty(t, r.Samples("unknown"))
}

func TestLatencyRecorderReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewLatencyRecorder(8)
	r.Record("src", Sample{Latency: time.Millisecond})

	samples := r.Samples("src")
	samples[0].Latency = time.Hour

	assert.Equal(t, time.Millisecond, r.Samples("src")[0].Latency)
}
