package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/always-cache/apq/pkg/fingerprint"
)

// RedisRegistry shares documents between server instances through redis.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a registry on top of an existing client.
// If prefix is empty, "apq:" is used. A zero ttl keeps entries forever.
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "apq:"
	}
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisRegistryFromURL creates a registry from a connection URL.
func NewRedisRegistryFromURL(url, prefix string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisRegistry(redis.NewClient(opts), prefix, ttl), nil
}

func (r *RedisRegistry) Register(ctx context.Context, hash fingerprint.Hash, document string) error {
	key := r.prefix + hash.String()
	// an entry may expire between SETNX and GET, so try twice
	for attempt := 0; attempt < 2; attempt++ {
		set, err := r.client.SetNX(ctx, key, document, r.ttl).Result()
		if err != nil {
			return unavailable(err, "setnx")
		}
		if set {
			return nil
		}
		stored, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return unavailable(err, "get")
		}
		if stored != document {
			return mismatch(hash)
		}
		return nil
	}
	return unavailable(fmt.Errorf("entry for %s expired during registration", hash), "setnx")
}

func (r *RedisRegistry) Lookup(ctx context.Context, hash fingerprint.Hash) (string, error) {
	document, err := r.client.Get(ctx, r.prefix+hash.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(hash)
	}
	if err != nil {
		return "", unavailable(err, "get")
	}
	return document, nil
}

// Ping checks if the redis connection is alive.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

var _ Registry = (*RedisRegistry)(nil)
