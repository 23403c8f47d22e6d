package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache. Stale entries stay in the map until
// overwritten or cleared.
type Memory[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory[T any](ttl time.Duration) *Memory[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Memory[T]{
		entries: make(map[string]Entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero T
	entry, ok := m.entries[key]
	if !ok || !entry.fresh(m.now(), m.ttl) {
		return zero, false, nil
	}

	return entry.Value, true, nil
}

func (m *Memory[T]) Put(_ context.Context, key string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = Entry[T]{Value: value, StoredAt: m.now()}
	return nil
}

func (m *Memory[T]) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		m.entries = make(map[string]Entry[T])
		return nil
	}

	delete(m.entries, key)
	return nil
}

// Len counts stored entries, stale ones included.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
