package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Put(_ context.Context, entry Entry) error {
	if entry.Key == "" {
		return errors.New("cache key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.Key]; ok {
		return ErrExists
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	entry.Data = append([]byte(nil), entry.Data...)
	m.entries[entry.Key] = entry
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Data = append([]byte(nil), entry.Data...)
	return entry, nil
}

func (m *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *MemoryStore) Close() error { return nil }
