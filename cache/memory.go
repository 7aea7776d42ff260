package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemCache keeps entries in process memory.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]CacheEntry),
	}
}

func (m MemCache) All(_ context.Context, prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	now := time.Now()
	entries := make([]CacheEntry, 0)
	for key, entry := range m.db {
		if strings.HasPrefix(key, prefix) && !entry.Expired(now) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m MemCache) Get(_ context.Context, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	entry, ok := m.db[key]
	m.mutex.RUnlock()
	if !ok {
		return CacheEntry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		return m.evict(key)
	}
	return entry, true, nil
}

// evict deletes the entry of key if it is still expired under the write lock.
// An entry put since the read lock was released is returned instead.
func (m MemCache) evict(key string) (CacheEntry, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok {
		return CacheEntry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		delete(m.db, key)
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (m MemCache) Put(_ context.Context, entry CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[entry.Key] = entry
	return nil
}

func (m MemCache) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := 0
	for key, entry := range m.db {
		if hasAny(entry.Tags, tags) {
			delete(m.db, key)
			removed++
		}
	}
	return removed, nil
}

func (m MemCache) Purge(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func hasAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

var _ CacheProvider = MemCache{}
