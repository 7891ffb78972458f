package sources

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSource is returned when a source id is not present in the
// registry.
var ErrUnknownSource = errors.New("unknown source")

// Registry is a thread-safe table of source descriptors. Descriptors are
// registered once at construction; the enabled flag is the only field that
// changes afterwards.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Descriptor
}

// NewRegistry validates the given descriptors and builds a registry from
// them. Duplicate ids are rejected.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	m := make(map[string]*Descriptor, len(descriptors))
	for i := range descriptors {
		d := descriptors[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m[d.ID]; ok {
			return nil, fmt.Errorf("duplicate source id %q", d.ID)
		}
		m[d.ID] = &d
	}
	return &Registry{m: m}, nil
}

// Get returns a copy of the descriptor for the given id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.m[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return *d, nil
}

// List returns all descriptors ordered by priority, then id for stability.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.m))
	for _, d := range r.m {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled flips the operator toggle for a source.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.m[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	d.Enabled = enabled
	return nil
}
