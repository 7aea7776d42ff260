package registry

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/always-cache/apq/pkg/fingerprint"
)

// MemoryRegistry keeps documents in process memory.
// With a positive capacity the least recently used entries are evicted,
// otherwise the registry grows without bound.
type MemoryRegistry struct {
	mutex   *sync.RWMutex
	db      map[fingerprint.Hash]string
	bounded *lru.Cache[fingerprint.Hash, string]
}

func NewMemoryRegistry(capacity int) (*MemoryRegistry, error) {
	if capacity > 0 {
		c, err := lru.New[fingerprint.Hash, string](capacity)
		if err != nil {
			return nil, err
		}
		return &MemoryRegistry{bounded: c}, nil
	}
	return &MemoryRegistry{
		mutex: &sync.RWMutex{},
		db:    make(map[fingerprint.Hash]string),
	}, nil
}

func (m *MemoryRegistry) Register(_ context.Context, hash fingerprint.Hash, document string) error {
	if m.bounded != nil {
		// PeekOrAdd is atomic, so the comparison is against whatever is stored
		if prev, ok, _ := m.bounded.PeekOrAdd(hash, document); ok && prev != document {
			return mismatch(hash)
		}
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if prev, ok := m.db[hash]; ok {
		if prev != document {
			return mismatch(hash)
		}
		return nil
	}
	m.db[hash] = document
	return nil
}

func (m *MemoryRegistry) Lookup(_ context.Context, hash fingerprint.Hash) (string, error) {
	if m.bounded != nil {
		if doc, ok := m.bounded.Get(hash); ok {
			return doc, nil
		}
		return "", notFound(hash)
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if doc, ok := m.db[hash]; ok {
		return doc, nil
	}
	return "", notFound(hash)
}

// Len returns the number of stored documents.
func (m *MemoryRegistry) Len() int {
	if m.bounded != nil {
		return m.bounded.Len()
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db)
}

var _ Registry = (*MemoryRegistry)(nil)
