// Package querycache keeps the last-known server value for each query the
// dashboard has issued, and coordinates how mutations may touch those values:
// snapshot, optimistic write, rollback on failure, invalidate on settle.
// Nothing else in the repo writes to a cached query directly.
package querycache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// entry is one cached query result.
type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Store is an in-memory, keyed mapping from query identity to last-known
// value, process-wide.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Key derives a query key from its identifying parts.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get returns the cached value for key and whether one exists. Staleness is
// not checked here; stale values still render while a refetch is in flight.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Fresh reports whether the cached value for key exists and is younger than
// maxAge.
func (s *Store) Fresh(key string, maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.stale {
		return false
	}
	return maxAge <= 0 || time.Since(e.fetchedAt) <= maxAge
}

// set writes a confirmed server value.
func (s *Store) set(key string, v any) {
	s.mu.Lock()
	s.entries[key] = entry{value: v, fetchedAt: time.Now()}
	s.mu.Unlock()
}

// setOptimistic overwrites the value without touching freshness; the entry is
// marked stale so the next read-through refetches.
func (s *Store) setOptimistic(key string, v any) {
	s.mu.Lock()
	e := s.entries[key]
	e.value = v
	e.stale = true
	s.entries[key] = e
	s.mu.Unlock()
}

// restore puts a snapshot back after a failed mutation. had=false means the
// key did not exist before the optimistic write.
func (s *Store) restore(key string, snapshot any, had bool) {
	s.mu.Lock()
	if had {
		e := s.entries[key]
		e.value = snapshot
		e.stale = false
		s.entries[key] = e
	} else {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// Invalidate marks the entry stale so the next read-through refetches. The
// last-known value stays readable in the meantime.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.stale = true
		s.entries[key] = e
	}
	s.mu.Unlock()
}

// Remove drops the entry entirely. Removing an absent key is safe.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Fetch is the read-through path: a fresh cached value is returned as-is,
// otherwise fetch runs and its result becomes the confirmed value. Fetch
// honors ctx cancellation, so an abandoned view never writes a stale result.
func Fetch[T any](ctx context.Context, s *Store, key string, maxAge time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	if s.Fresh(key, maxAge) {
		if v, ok := s.Get(key); ok {
			if tv, ok := v.(T); ok {
				return tv, nil
			}
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if ctx.Err() != nil {
		// The caller went away mid-fetch; do not publish the result.
		var zero T
		return zero, ctx.Err()
	}
	s.set(key, v)
	return v, nil
}
