package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetRespectsTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(10, WithClock(func() time.Time { return now }))

	s.Put("k", []byte("payload"), time.Minute)

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), entry.Payload)
	assert.Equal(t, now, entry.StoredAt)

	// Advance to exactly the TTL boundary: expired.
	now = now.Add(time.Minute)
	_, ok = s.Get("k")
	assert.False(t, ok, "entry at exact TTL boundary should be a miss")
}

func TestStoreExpiredEntryIsKept(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(10, WithClock(func() time.Time { return now }))

	s.Put("k", []byte("old"), time.Second)
	now = now.Add(time.Hour)

	_, ok := s.Get("k")
	require.False(t, ok)

	stale, ok := s.GetStale("k")
	require.True(t, ok, "expired entry must remain readable via GetStale")
	assert.Equal(t, []byte("old"), stale.Payload)
	assert.True(t, stale.Expired(now))
}

func TestStoreEvictsOldestStoredFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(3, WithClock(func() time.Time { return now }))

	for i := 0; i < 4; i++ {
		s.Put(fmt.Sprintf("k%d", i), i, time.Hour)
		now = now.Add(time.Minute)
	}

	stats := s.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, []string{"k1", "k2", "k3"}, stats.Keys, "k0 has the oldest StoredAt and must go first")
}

func TestStoreEvictionPrefersOldestNotExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(2, WithClock(func() time.Time { return now }))

	// k0 is oldest-stored but has a long TTL; k1 is newer but already
	// expired. Eviction is by StoredAt, not by expiry.
	s.Put("k0", 0, 24*time.Hour)
	now = now.Add(time.Minute)
	s.Put("k1", 1, time.Nanosecond)
	now = now.Add(time.Minute)
	s.Put("k2", 2, time.Hour)

	stats := s.Stats()
	assert.Equal(t, []string{"k1", "k2"}, stats.Keys)
}

func TestStorePutOverwritesRefreshesStoredAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(10, WithClock(func() time.Time { return now }))

	s.Put("k", "v1", time.Minute)
	now = now.Add(30 * time.Second)
	s.Put("k", "v2", time.Minute)

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Payload)
	assert.Equal(t, now, entry.StoredAt)
	assert.Equal(t, 1, s.Stats().Size)
}

func TestStoreInvalidateAndClear(t *testing.T) {
	t.Parallel()

	s := NewStore(10)
	s.Put("a", 1, time.Hour)
	s.Put("b", 2, time.Hour)

	s.Invalidate("a")
	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Stats().Size)
}

func TestNewStoreDefaultsCapacity(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	assert.Equal(t, DefaultCapacity, s.capacity)

	s = NewStore(-5)
	assert.Equal(t, DefaultCapacity, s.capacity)
}
