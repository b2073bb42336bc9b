package paramcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemorySize = 10000

// MemoryStore is a size-bounded in-process store. Least recently used
// entries are evicted when full; expired entries are dropped on read
// and swept by a background janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	cache   *lru.Cache[string, *memoryEntry]
	stop    chan struct{}
	stopped sync.Once
}

type memoryEntry struct {
	params    Params
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory parameter store.
//
// Args:
//   - size: maximum number of entries (LRU eviction when full, <= 0 uses the default)
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = defaultMemorySize
	}
	cache, err := lru.New[string, *memoryEntry](size)
	if err != nil {
		return nil, err
	}
	m := &MemoryStore{cache: cache, stop: make(chan struct{})}
	go m.janitor()
	return m, nil
}

func (m *MemoryStore) Get(ctx context.Context, entityID string) (*Params, error) {
	m.mu.RLock()
	e, ok := m.cache.Get(cacheKey(entityID))
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		m.cache.Remove(cacheKey(entityID))
		m.mu.Unlock()
		return nil, nil
	}
	p := e.params
	return &p, nil
}

func (m *MemoryStore) Set(ctx context.Context, entityID string, p Params, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(cacheKey(entityID), &memoryEntry{
		params:    p,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// Len returns the number of live entries, expired ones included until swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.stopped.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
	return nil
}

// janitor sweeps expired entries so abandoned entities do not pin
// cache slots until eviction.
func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, key := range m.cache.Keys() {
		if e, ok := m.cache.Peek(key); ok && now.After(e.expiresAt) {
			m.cache.Remove(key)
		}
	}
}
