package throttle

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryEntries bounds the in-process store
const DefaultMemoryEntries = 100_000

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments.
// The LRU bounds memory; per-entry expiry implements the policy TTLs.
type MemoryStore struct {
	cache *lru.LRU[string, memoryEntry]
	mu    sync.Mutex
}

// NewMemoryStore creates a store holding at most maxEntries keys.
// maxTTL is an upper bound on any entry's lifetime and should be at least
// max(Policy.Lockout, Policy.Probation).
func NewMemoryStore(maxEntries int, maxTTL time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryStore{
		cache: lru.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
	}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, key string, now time.Time) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key, now)
	return entry.state, ok, nil
}

// Increment implements Store
func (m *MemoryStore) Increment(_ context.Context, key string, policy Policy, now time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, _ := m.lookup(key, now)
	next, ttl := apply(prev.state, policy, now)
	m.cache.Add(key, memoryEntry{state: next, expiresAt: now.Add(ttl)})
	return next, nil
}

// Delete implements Store
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(key)
	return nil
}

// Len returns the number of live entries
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// lookup must be called with mu held
func (m *MemoryStore) lookup(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !now.Before(entry.expiresAt) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}
