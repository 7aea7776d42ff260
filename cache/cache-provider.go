package cache

import (
	"context"
	"time"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses.
// It also keeps track of expiration times and invalidation tags of cache entries.
// Operating on specific keys or origin-specific prefixes is very important
// in order for many origins to be able to be stored in the same cache.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// All returns all unexpired cache entries that have the specific key prefix.
	// These are the stored variants of one operation.
	All(ctx context.Context, prefix string) ([]CacheEntry, error)
	// Get returns the cached entry for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean is false.
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ctx context.Context, entry CacheEntry) error
	// InvalidateTags removes all entries carrying any of the tags.
	// It returns the number of removed entries.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
	// Purge removes the cache entry for the given key.
	Purge(ctx context.Context, key string) error
}

type CacheEntry struct {
	Key string
	// Context names the stored response varies by.
	Contexts []string
	Tags     []string
	// Zero means the entry does not expire.
	Expires  time.Time
	StoredAt time.Time
	Bytes    []byte
}

// Expired reports whether the entry is stale at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// TTL returns the remaining lifetime, or zero for entries that do not expire.
func (e CacheEntry) TTL(now time.Time) time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	return e.Expires.Sub(now)
}
