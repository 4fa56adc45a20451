package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps every store in process memory.
// A positive maxBytes bounds the total size of stored entries.
type MemoryBackend struct {
	maxBytes int64

	mu     sync.RWMutex
	used   int64
	order  []string
	stores map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(maxBytes int64) *MemoryBackend {
	return &MemoryBackend{
		maxBytes: maxBytes,
		stores:   make(map[string]map[string][]byte),
	}
}

func (m *MemoryBackend) Open(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)
	return nil
}

func (m *MemoryBackend) openLocked(name string) map[string][]byte {
	store, ok := m.stores[name]
	if !ok {
		store = make(map[string][]byte)
		m.stores[name] = store
		m.order = append(m.order, name)
	}
	return store
}

func (m *MemoryBackend) Has(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

func (m *MemoryBackend) Names(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	for _, v := range store {
		m.used -= int64(len(v))
	}
	delete(m.stores, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryBackend) Get(ctx context.Context, name, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[name]
	if !ok {
		return nil, ErrCacheMiss
	}
	v, ok := store[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Put(ctx context.Context, name, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldSize int64
	if store, ok := m.stores[name]; ok {
		oldSize = int64(len(store[key]))
	}
	delta := int64(len(data)) - oldSize
	if m.maxBytes > 0 && m.used+delta > m.maxBytes {
		return ErrQuotaExceeded
	}

	v := make([]byte, len(data))
	copy(v, data)
	m.openLocked(name)[key] = v
	m.used += delta
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store := m.stores[name]
	out := make([]string, 0, len(store))
	for k := range store {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// UsedBytes returns the total size of stored entries.
func (m *MemoryBackend) UsedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *MemoryBackend) Close() error { return nil }
