// Package cache provides the in-memory TTL store shared by the fetch
// executor and the consolidation facade. Expired entries are treated as
// misses but kept around until capacity pressure forces eviction, so
// last-known-good reads can still see them.
package cache

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity bounds the store when no explicit capacity is configured.
const DefaultCapacity = 256

// Entry is one cached payload with its freshness bookkeeping.
type Entry struct {
	Key      string
	Payload  any
	StoredAt time.Time
	TTL      time.Duration
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Stats is a point-in-time snapshot of the store for diagnostics.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Store is a bounded key/value store with lazy expiry. Eviction removes
// entries in ascending StoredAt order, and only happens when a Put pushes
// the store past its capacity.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	capacity int
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store bounded at capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewStore(capacity int, opts ...StoreOption) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		entries:  make(map[string]*Entry),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the entry for key if it exists and has not expired. An expired
// entry is reported as a miss but not removed.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(s.now()) {
		return Entry{}, false
	}
	return *e, true
}

// GetStale returns the entry for key even if it has expired. Callers use
// this for last-known-good fallbacks after a failed live fetch; everything
// else should use Get.
func (s *Store) GetStale(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put stores payload under key, evicting oldest-stored entries if the store
// exceeds its capacity afterwards.
func (s *Store) Put(key string, payload any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{
		Key:      key,
		Payload:  payload,
		StoredAt: s.now(),
		TTL:      ttl,
	}
	s.evictLocked()
}

// evictLocked removes entries in ascending StoredAt order until the store is
// within capacity. Caller must hold s.mu.
func (s *Store) evictLocked() {
	if len(s.entries) <= s.capacity {
		return
	}
	ordered := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StoredAt.Before(ordered[j].StoredAt)
	})
	for _, e := range ordered {
		if len(s.entries) <= s.capacity {
			break
		}
		delete(s.entries, e.Key)
	}
}

// Invalidate removes the entry for key, if present.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
}

// Stats returns the current size and sorted key list.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}
