package cache

import (
	"strings"
	"sync"
	"time"
)

// MemoryCache implements the Cache interface with an in-process map. It is
// the default for the API server, where response freshness matters more than
// surviving restarts.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

// Read implements Reader interface
func (mc *MemoryCache) Read(key string, maxAge time.Duration) (*Entry, bool) {
	mc.mu.RLock()
	entry, ok := mc.entries[key]
	mc.mu.RUnlock()
	if !ok {
		return nil, false
	}

	// Copy so callers never alias the stored entry
	cp := *entry
	if maxAge > 0 && time.Since(entry.FetchedAt) > maxAge {
		return &cp, false // Return entry but mark as expired
	}
	return &cp, true
}

// Write implements Writer interface
func (mc *MemoryCache) Write(key string, entry *Entry) error {
	cp := *entry
	cp.FetchedAt = time.Now()

	mc.mu.Lock()
	mc.entries[key] = &cp
	mc.mu.Unlock()
	return nil
}

// GetETag implements ETagger interface
func (mc *MemoryCache) GetETag(key string) string {
	entry, exists := mc.Read(key, 0)
	if !exists || entry == nil {
		return ""
	}
	return entry.ETag
}

// Invalidate implements Invalidator interface
func (mc *MemoryCache) Invalidate(key string) {
	mc.mu.Lock()
	delete(mc.entries, key)
	mc.mu.Unlock()
}

// InvalidatePath implements Invalidator interface. Keyed entries share the
// derived path as a prefix, with params appended after a "__" separator.
func (mc *MemoryCache) InvalidatePath(path string) {
	prefix := DeriveKey(path, nil)
	mc.mu.Lock()
	for k := range mc.entries {
		if k == prefix || strings.HasPrefix(k, prefix+"__") {
			delete(mc.entries, k)
		}
	}
	mc.mu.Unlock()
}

// KeyFor implements KeyGenerator interface
func (mc *MemoryCache) KeyFor(path string, params map[string]string) string {
	return DeriveKey(path, params)
}
