package conv

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Registry memoizes discovery results per signature for the lifetime of the
// process. It only grows.
type Registry struct {
	mu      sync.RWMutex
	entries map[Signature]Entry
	flight  singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// NewRegistry returns an empty registry. Most callers share DefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Signature]Entry),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the registry shared by every operator in the process.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// FindOrCompute returns the entry for sig, running compute on a miss.
// Concurrent misses on the same signature share one compute call; misses on
// different signatures compute independently. Errors are returned to every
// waiter and are not stored.
func (r *Registry) FindOrCompute(sig Signature, compute func() (Entry, error)) (Entry, error) {
	if e, ok := r.Lookup(sig); ok {
		r.hits.Add(1)
		return e, nil
	}
	r.misses.Add(1)

	v, err, _ := r.flight.Do(sig.Key(), func() (any, error) {
		// A flight that finished between our lookup and Do already stored it.
		if e, ok := r.Lookup(sig); ok {
			return e, nil
		}
		r.computes.Add(1)
		e, err := compute()
		if err != nil {
			return Entry{}, err
		}
		r.mu.Lock()
		r.entries[sig] = e
		r.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Lookup returns the cached entry for sig without computing it.
func (r *Registry) Lookup(sig Signature) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[sig]
	r.mu.RUnlock()
	return e, ok
}

// Len is the number of cached signatures.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// RegistryStats counts registry traffic.
type RegistryStats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Computes int64 `json:"computes"`
}

// Stats reports cache size, hits and computations so far.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Entries:  r.Len(),
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Computes: r.computes.Load(),
	}
}

// SnapshotEntry is one registry row for diagnostics.
type SnapshotEntry struct {
	Key       string    `json:"key"`
	Signature Signature `json:"-"`
	Entry     Entry     `json:"entry"`
}

// Snapshot copies the registry, sorted by key.
func (r *Registry) Snapshot() []SnapshotEntry {
	r.mu.RLock()
	out := make([]SnapshotEntry, 0, len(r.entries))
	for sig, e := range r.entries {
		out = append(out, SnapshotEntry{Key: sig.Key(), Signature: sig, Entry: e})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b SnapshotEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}
