package cache

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

// FileCache implements the Cache interface using filesystem storage. It
// survives process restarts, which suits the worker's best-effort jobs.
type FileCache struct {
	dir string
}

// NewFileCache creates a new file-based cache in the specified subdirectory
// If subdir is empty, uses a default cache directory
func NewFileCache(subdir string) (*FileCache, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Join(usr.HomeDir, ".nexdash_cache")
	if subdir != "" {
		baseDir = filepath.Join(baseDir, subdir)
	}

	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}

	return &FileCache{dir: baseDir}, nil
}

// NewEngineCache creates a cache specifically for engine API calls
func NewEngineCache() (*FileCache, error) {
	return NewFileCache("engine")
}

// Read implements Reader interface
func (fc *FileCache) Read(key string, maxAge time.Duration) (*Entry, bool) {
	data, err := os.ReadFile(fc.path(key))
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	if maxAge > 0 && time.Since(entry.FetchedAt) > maxAge {
		return &entry, false // Return entry but mark as expired
	}

	return &entry, true
}

// Write implements Writer interface
func (fc *FileCache) Write(key string, entry *Entry) error {
	path := fc.path(key)
	entry.FetchedAt = time.Now()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// GetETag implements ETagger interface
func (fc *FileCache) GetETag(key string) string {
	entry, exists := fc.Read(key, 0) // Read without TTL check
	if !exists || entry == nil {
		return ""
	}
	return entry.ETag
}

// Invalidate implements Invalidator interface
func (fc *FileCache) Invalidate(key string) {
	_ = os.Remove(fc.path(key))
}

// InvalidatePath implements Invalidator interface
func (fc *FileCache) InvalidatePath(path string) {
	prefix := DeriveKey(path, nil)
	_ = os.Remove(fc.path(prefix + ".json"))

	matches, err := filepath.Glob(fc.path(prefix + "__*.json"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// KeyFor implements KeyGenerator interface
func (fc *FileCache) KeyFor(path string, params map[string]string) string {
	return DeriveKey(path, params) + ".json"
}

// path generates the full filesystem path for a cache key
func (fc *FileCache) path(key string) string {
	return filepath.Join(fc.dir, key)
}
