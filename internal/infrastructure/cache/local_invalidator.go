package cache

import (
	"context"
	"sync"

	"github.com/erp/pricesync/internal/domain/pricesync"
)

// LocalInvalidator is the single-instance CacheInvalidator used when Redis
// is disabled. Published messages go to in-process subscribers only.
type LocalInvalidator struct {
	mu          sync.RWMutex
	subscribers map[int]func(pricesync.CacheUpdateMessage)
	next        int
}

// NewLocalInvalidator creates a LocalInvalidator
func NewLocalInvalidator() *LocalInvalidator {
	return &LocalInvalidator{subscribers: make(map[int]func(pricesync.CacheUpdateMessage))}
}

// Publish delivers msg synchronously to every current subscriber
func (l *LocalInvalidator) Publish(_ context.Context, msg pricesync.CacheUpdateMessage) error {
	l.mu.RLock()
	callbacks := make([]func(pricesync.CacheUpdateMessage), 0, len(l.subscribers))
	for _, cb := range l.subscribers {
		callbacks = append(callbacks, cb)
	}
	l.mu.RUnlock()

	for _, cb := range callbacks {
		cb(msg)
	}
	return nil
}

// Subscribe registers callback and blocks until ctx is done
func (l *LocalInvalidator) Subscribe(ctx context.Context, callback func(pricesync.CacheUpdateMessage)) error {
	l.mu.Lock()
	id := l.next
	l.next++
	l.subscribers[id] = callback
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.subscribers, id)
	l.mu.Unlock()
	return ctx.Err()
}

// Close is a no-op
func (l *LocalInvalidator) Close() error { return nil }

var _ pricesync.CacheInvalidator = (*LocalInvalidator)(nil)
