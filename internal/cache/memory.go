package cache

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries for the life of the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[Namespace]map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[Namespace]map[string][]byte{}}
}

func (m *MemoryBackend) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryBackend) Put(_ context.Context, ns Namespace, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[ns] == nil {
		m.entries[ns] = map[string][]byte{}
	}
	m.entries[ns][key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[Namespace]map[string][]byte{}
	return nil
}

// Len counts entries across namespaces.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entries := range m.entries {
		n += len(entries)
	}
	return n
}

func (m *MemoryBackend) Close() error { return nil }
