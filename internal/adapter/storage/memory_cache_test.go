package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Lock(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	token, ok, err := cache.AcquireLock(ctx, "rack:A1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = cache.AcquireLock(ctx, "rack:A1", time.Minute)
	assert.False(t, ok)

	require.NoError(t, cache.ReleaseLock(ctx, "rack:A1", "other"))
	_, ok, _ = cache.AcquireLock(ctx, "rack:A1", time.Minute)
	assert.False(t, ok, "wrong token must not release")

	require.NoError(t, cache.ReleaseLock(ctx, "rack:A1", token))
	_, ok, _ = cache.AcquireLock(ctx, "rack:A1", time.Minute)
	assert.True(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, ok, _ := cache.AcquireLock(ctx, "product:1", time.Second)
	require.True(t, ok)
	ok, _ = cache.SetIdempotency(ctx, "restock:1:a")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = cache.AcquireLock(ctx, "product:1", time.Second)
	assert.True(t, ok)
	ok, _ = cache.SetIdempotency(ctx, "restock:1:a")
	assert.False(t, ok)

	now = now.Add(idempotencyKeyTTL)
	ok, _ = cache.SetIdempotency(ctx, "restock:1:a")
	assert.True(t, ok)
}

func TestMemoryCache_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := cache.AcquireLock(ctx, "rack:B2", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryCache_DeleteIdempotency(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	ok, _ := cache.SetIdempotency(ctx, "restock:1:a")
	require.True(t, ok)
	require.NoError(t, cache.DeleteIdempotency(ctx, "restock:1:a"))

	ok, _ = cache.SetIdempotency(ctx, "restock:1:a")
	assert.True(t, ok)
}

func TestMemoryCache_SweepsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	for i := range sweepEvery - 1 {
		ok, _ := cache.SetIdempotency(ctx, fmt.Sprintf("restock:1:%d", i))
		require.True(t, ok)
	}
	require.Equal(t, sweepEvery-1, cache.size())

	now = now.Add(idempotencyKeyTTL)
	ok, _ := cache.SetIdempotency(ctx, "restock:2:fresh")
	require.True(t, ok)

	assert.Equal(t, 1, cache.size())
}
