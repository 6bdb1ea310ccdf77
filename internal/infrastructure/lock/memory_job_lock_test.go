package lock

import (
	"context"
	"testing"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJobLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryJobLocker()
	key := pricesync.JobLockKey(uuid.New(), pricesync.CadenceBulk)

	first, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, pricesync.ErrLockNotObtained)

	_, err = locker.TryLock(ctx, key+":other", time.Minute)
	assert.NoError(t, err, "distinct keys do not contend")

	require.NoError(t, first.Release(ctx))
	second, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestMemoryJobLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewMemoryJobLocker()
	locker.now = func() time.Time { return now }

	stale, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	require.NoError(t, stale.Release(ctx))
	_, err = locker.TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, pricesync.ErrLockNotObtained, "stale release must not drop the new lease")

	require.NoError(t, fresh.Release(ctx))
}
