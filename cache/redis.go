package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries as JSON values with native expiry.
// Every tag is a set of the keys carrying it.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache on top of an existing client.
// If prefix is empty, "cache:" is used.
func NewRedisCache(client *redis.Client, prefix string) RedisCache {
	if prefix == "" {
		prefix = "cache:"
	}
	return RedisCache{client: client, prefix: prefix}
}

// NewRedisCacheFromURL creates a cache from a connection URL.
func NewRedisCacheFromURL(url, prefix string) (RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return RedisCache{}, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisCache(redis.NewClient(opts), prefix), nil
}

func (r RedisCache) entryKey(key string) string {
	return r.prefix + "entry:" + key
}

func (r RedisCache) tagKey(tag string) string {
	return r.prefix + "tag:" + tag
}

func (r RedisCache) All(ctx context.Context, prefix string) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	iter := r.client.Scan(ctx, 0, escapeGlob(r.entryKey(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		entry, ok, err := r.load(ctx, iter.Val())
		if err != nil {
			return entries, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, iter.Err()
}

func (r RedisCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	return r.load(ctx, r.entryKey(key))
}

func (r RedisCache) load(ctx context.Context, redisKey string) (CacheEntry, bool, error) {
	data, err := r.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	if entry.Expired(time.Now()) {
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (r RedisCache) Put(ctx context.Context, entry CacheEntry) error {
	ttl := entry.TTL(time.Now())
	if !entry.Expires.IsZero() && ttl < time.Millisecond {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(entry.Key), data, ttl)
		for _, tag := range entry.Tags {
			addTagMember.Eval(ctx, pipe, []string{r.tagKey(tag)}, entry.Key, ttl.Milliseconds())
		}
		return nil
	})
	return err
}

// addTagMember adds a key to a tag set. The set lives as long as its longest
// lived member: a permanent member (ttl 0) makes the set permanent.
var addTagMember = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
	redis.call("PERSIST", KEYS[1])
	return 0
end
local current = redis.call("PTTL", KEYS[1])
if existed == 0 or (current >= 0 and current < ttl) then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 0
`)

func (r RedisCache) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			redisKeys := make([]string, len(keys))
			for i, key := range keys {
				redisKeys[i] = r.entryKey(key)
			}
			n, err := r.client.Del(ctx, redisKeys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		if err := r.client.Del(ctx, r.tagKey(tag)).Err(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (r RedisCache) Purge(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.entryKey(key)).Err()
}

func (r RedisCache) Close() error {
	return r.client.Close()
}

// escapeGlob escapes the pattern characters of redis SCAN MATCH.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

var _ CacheProvider = RedisCache{}
