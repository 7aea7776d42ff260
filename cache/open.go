package cache

import "fmt"

// Config selects and configures a cache backend.
type Config struct {
	// One of "memory" (default), "sqlite" or "redis".
	Backend string `yaml:"backend"`
	// Database file for the sqlite backend.
	DSN string `yaml:"dsn"`
	// Connection URL for the redis backend.
	URL string `yaml:"url"`
	// Key prefix for the redis backend.
	Prefix string `yaml:"prefix"`
}

// Open creates the cache provider described by the config.
func Open(cfg Config) (CacheProvider, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemCache(), nil
	case "sqlite":
		return NewSQLiteCache(cfg.DSN)
	case "redis":
		return NewRedisCacheFromURL(cfg.URL, cfg.Prefix)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
