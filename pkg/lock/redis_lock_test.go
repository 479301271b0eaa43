package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLockClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_LockUnlock(t *testing.T) {
	_, client := setupLockClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "lock:warmup:1", "holder-a", time.Minute)
	require.NoError(t, l.Lock(ctx))

	// Second holder cannot acquire while held.
	other := NewRedisLock(client, "lock:warmup:1", "holder-b", time.Minute)
	assert.ErrorIs(t, other.Lock(ctx), ErrLockFailed)

	require.NoError(t, l.Unlock(ctx))
	assert.NoError(t, other.Lock(ctx))
}

func TestRedisLock_UnlockNotHeld(t *testing.T) {
	_, client := setupLockClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "lock:warmup:2", "holder-a", time.Minute)
	assert.ErrorIs(t, l.Unlock(ctx), ErrLockNotHeld)

	// A holder with a different value must not release someone else's lock.
	require.NoError(t, l.Lock(ctx))
	imposter := NewRedisLock(client, "lock:warmup:2", "holder-b", time.Minute)
	assert.ErrorIs(t, imposter.Unlock(ctx), ErrLockNotHeld)
}

func TestRedisLock_TryLock(t *testing.T) {
	mr, client := setupLockClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "lock:warmup:3", "holder-a", time.Minute)
	require.NoError(t, l.Lock(ctx))

	other := NewRedisLock(client, "lock:warmup:3", "holder-b", time.Minute)
	assert.ErrorIs(t, other.TryLock(ctx, 2, 10*time.Millisecond), ErrLockFailed)

	// After expiry the lock becomes available again.
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, other.TryLock(ctx, 2, 10*time.Millisecond))
}
