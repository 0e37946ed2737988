package cache

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

// DeriveKey builds a stable cache key from a request path and its query
// params. Params are sorted so the same request always maps to the same key
// regardless of iteration order. Both cache implementations share this so
// entries never diverge between them. Keys for the same path share the
// path-derived prefix, which InvalidatePath relies on; engine paths stay
// well under the hash cutoff below.
func DeriveKey(path string, params map[string]string) string {
	var parts []string
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	cleanPath := strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")

	key := cleanPath
	if len(parts) > 0 {
		key = fmt.Sprintf("%s__%s", cleanPath, strings.Join(parts, "__"))
	}
	return sanitizeKey(key)
}

// sanitizeKey makes a key safe for use as a filename
func sanitizeKey(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x", hash)
	}

	unsafe := []string{":", "?", "&", "=", "#", "<", ">", "|", "*", "\"", " "}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}
