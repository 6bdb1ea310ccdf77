package storage

import (
	"context"
	"io"
	"maps"
	"sync"

	"github.com/erp/pricesync/internal/domain/pricesync"
)

// MemoryArchiveStore keeps archive objects in memory. It backs local runs
// without object storage and tests.
type MemoryArchiveStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryArchiveStore creates an empty store
func NewMemoryArchiveStore() *MemoryArchiveStore {
	return &MemoryArchiveStore{objects: make(map[string][]byte)}
}

// Put stores a copy of body under key
func (m *MemoryArchiveStore) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "mem://" + key, nil
}

// Objects returns a snapshot of stored objects
func (m *MemoryArchiveStore) Objects() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.objects)
}

var _ pricesync.ArchiveStore = (*MemoryArchiveStore)(nil)
