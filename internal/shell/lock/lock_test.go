package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LocalLocker Tests
// =============================================================================

func TestLocalLocker_AcquireRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	key := ServiceKey("ws-1", "svc-1")

	lease, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, l.Held(key))

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLocked)

	// other services are independent
	other, err := l.Acquire(ctx, ServiceKey("ws-1", "svc-2"))
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.False(t, l.Held(key))

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLocker().Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLocker_ConcurrentAcquire(t *testing.T) {
	l := NewLocalLocker()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "same"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// =============================================================================
// RedisLocker Tests
// =============================================================================

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("LAUNCHPAD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LAUNCHPAD_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLocker(client, 2*time.Second, nil)
	ctx := context.Background()
	key := ServiceKey("ws-test", time.Now().Format(time.RFC3339Nano))

	lease, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLocked)

	// refresh keeps the lease alive past its ttl
	time.Sleep(3 * time.Second)
	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
