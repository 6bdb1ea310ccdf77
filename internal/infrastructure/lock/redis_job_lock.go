// Package lock provides cross-instance job locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisJobLocker implements pricesync.JobLocker with bsm/redislock.
// Locks are not retried: a held key reports ErrLockNotObtained immediately.
type RedisJobLocker struct {
	client *redislock.Client
	logger *zap.Logger
}

// NewRedisJobLocker creates a locker on an existing Redis client
func NewRedisJobLocker(client *redis.Client, logger *zap.Logger) *RedisJobLocker {
	return &RedisJobLocker{
		client: redislock.New(client),
		logger: logger,
	}
}

// TryLock obtains key for ttl
func (l *RedisJobLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (pricesync.JobLock, error) {
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: redislock.NoRetry()})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, pricesync.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	l.logger.Debug("job lock obtained", zap.String("key", key), zap.Duration("ttl", ttl))
	return &redisJobLock{lock: lk, key: key, logger: l.logger}, nil
}

type redisJobLock struct {
	lock   *redislock.Lock
	key    string
	logger *zap.Logger
}

// Release frees the lock. Releasing an expired lock is not an error.
func (r *redisJobLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		r.logger.Warn("job lock expired before release", zap.String("key", r.key))
		return nil
	}
	return err
}

var _ pricesync.JobLocker = (*RedisJobLocker)(nil)
