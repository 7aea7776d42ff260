// Package registry stores persisted operation documents by their fingerprint.
package registry

import (
	"context"
	"fmt"
	"time"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	"github.com/always-cache/apq/pkg/fingerprint"
)

// Registry is a content-addressed store of operation documents.
//
// Implementations must be thread-safe!
// A hash maps to at most one document for the lifetime of an entry:
// registering a different document under a stored hash fails with a
// HashMismatch error and never overwrites.
type Registry interface {
	// Register stores the document under the hash if absent.
	// Registering the same pair again is a no-op.
	Register(ctx context.Context, hash fingerprint.Hash, document string) error
	// Lookup returns the stored document,
	// or a PersistedQueryNotFound error if there is none.
	Lookup(ctx context.Context, hash fingerprint.Hash) (string, error)
}

// Config selects and configures a registry backend.
// Capacity and TTL are deployment decisions, zero means unlimited.
type Config struct {
	// One of "memory" (default), "sqlite" or "redis".
	Backend string `yaml:"backend"`
	// Maximum number of entries kept by the memory backend (LRU eviction).
	Capacity int `yaml:"capacity"`
	// Entry expiry for the redis backend.
	TTL time.Duration `yaml:"ttl"`
	// Database file for the sqlite backend.
	DSN string `yaml:"dsn"`
	// Connection URL for the redis backend, e.g. redis://localhost:6379/0
	URL string `yaml:"url"`
	// Key prefix for the redis backend.
	Prefix string `yaml:"prefix"`
}

// Open creates the registry described by the config.
func Open(cfg Config) (Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRegistry(cfg.Capacity)
	case "sqlite":
		return NewSQLiteRegistry(cfg.DSN)
	case "redis":
		return NewRedisRegistryFromURL(cfg.URL, cfg.Prefix, cfg.TTL)
	}
	return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
}

func notFound(hash fingerprint.Hash) error {
	return apqerror.Newf(apqerror.PersistedQueryNotFound, "PersistedQueryNotFound: no document stored for %s", hash)
}

func mismatch(hash fingerprint.Hash) error {
	return apqerror.Newf(apqerror.HashMismatch, "a different document is already registered for %s", hash)
}

func unavailable(err error, op string) error {
	return apqerror.Wrap(apqerror.StoreUnavailable, err, "registry "+op+" failed")
}
