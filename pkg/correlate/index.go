package correlate

import (
	"context"
	"sync"
)

// Index maps (source, key) pairs to correlation ids. Entries are written when
// a call suspends on an external event and removed once the suspension
// resolves.
type Index interface {
	Put(ctx context.Context, source, key, correlationID string) error
	Lookup(ctx context.Context, source, key string) (correlationID string, found bool, err error)
	Delete(ctx context.Context, source, key string) error
}

// MemoryIndex is the in-process Index used when no database is configured.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[indexKey]string
}

type indexKey struct {
	source string
	key    string
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[indexKey]string)}
}

func (m *MemoryIndex) Put(_ context.Context, source, key, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[indexKey{source, key}] = correlationID
	return nil
}

func (m *MemoryIndex) Lookup(_ context.Context, source, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[indexKey{source, key}]
	return id, ok, nil
}

func (m *MemoryIndex) Delete(_ context.Context, source, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, indexKey{source, key})
	return nil
}
