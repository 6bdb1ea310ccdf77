package lock

import (
	"context"
	"sync"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
)

// MemoryJobLocker is the single-instance JobLocker used when Redis is disabled
type MemoryJobLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	now   func() time.Time
	seqNo uint64
}

type memoryLease struct {
	seq     uint64
	expires time.Time
}

// NewMemoryJobLocker creates a MemoryJobLocker
func NewMemoryJobLocker() *MemoryJobLocker {
	return &MemoryJobLocker{held: make(map[string]memoryLease), now: time.Now}
}

// TryLock obtains key for ttl unless an unexpired lease exists
func (m *MemoryJobLocker) TryLock(_ context.Context, key string, ttl time.Duration) (pricesync.JobLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if lease, ok := m.held[key]; ok && now.Before(lease.expires) {
		return nil, pricesync.ErrLockNotObtained
	}
	m.seqNo++
	m.held[key] = memoryLease{seq: m.seqNo, expires: now.Add(ttl)}
	return &memoryJobLock{owner: m, key: key, seq: m.seqNo}, nil
}

type memoryJobLock struct {
	owner *MemoryJobLocker
	key   string
	seq   uint64
}

// Release drops the lease if it is still ours
func (l *memoryJobLock) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if lease, ok := l.owner.held[l.key]; ok && lease.seq == l.seq {
		delete(l.owner.held, l.key)
	}
	return nil
}

var _ pricesync.JobLocker = (*MemoryJobLocker)(nil)
