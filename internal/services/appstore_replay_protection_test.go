package services

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

func TestReplayProtection(t *testing.T) {
	rp := NewReplayProtection(time.Hour)
	defer rp.Stop()
	ctx := context.Background()

	replay, err := rp.IsReplay(ctx, "uuid-1", 1000)
	require.NoError(t, err)
	assert.False(t, replay)

	replay, err = rp.IsReplay(ctx, "uuid-1", 1000)
	require.NoError(t, err)
	assert.True(t, replay)

	// A retried delivery carries a new signedDate.
	replay, err = rp.IsReplay(ctx, "uuid-1", 2000)
	require.NoError(t, err)
	assert.False(t, replay)

	// Without a UUID nothing is recorded.
	for i := 0; i < 2; i++ {
		replay, err = rp.IsReplay(ctx, "", 1000)
		require.NoError(t, err)
		assert.False(t, replay)
	}

	assert.Equal(t, 2, rp.GetStats()["total_processed"])
}

func TestReplayProtectionCleanup(t *testing.T) {
	rp := NewReplayProtection(time.Hour)
	defer rp.Stop()
	ctx := context.Background()

	_, err := rp.IsReplay(ctx, "uuid-1", 1000)
	require.NoError(t, err)

	rp.cleanup(time.Now().Add(30 * time.Minute))
	assert.Equal(t, 1, rp.GetStats()["total_processed"])

	rp.cleanup(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 0, rp.GetStats()["total_processed"])

	replay, err := rp.IsReplay(ctx, "uuid-1", 1000)
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestReplayProtectionStopTwice(t *testing.T) {
	rp := NewReplayProtection(time.Hour)
	rp.Stop()
	assert.NotPanics(t, rp.Stop)
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.Acquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = locker.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "key"))
	ok, err = locker.Acquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerExpires(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "key", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	ok, err = locker.Acquire(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerSingleWinner(t *testing.T) {
	locker := NewMemoryLocker()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := locker.Acquire(context.Background(), "key", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisService(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := context.Background()
	svc := NewRedisService(client, time.Minute)
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	ok, err := svc.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, svc.Release(ctx, key))
	ok, err = svc.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, svc.Release(ctx, key))

	replay, err := svc.IsReplay(ctx, key, 1)
	require.NoError(t, err)
	assert.False(t, replay)
	replay, err = svc.IsReplay(ctx, key, 1)
	require.NoError(t, err)
	assert.True(t, replay)
}
