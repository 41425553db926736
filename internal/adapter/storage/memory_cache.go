package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sweepEvery is how many idempotency writes pass between purges of
// expired entries.
const sweepEvery = 256

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryCache is the single-process CacheRepository used when no Redis
// address is configured. Locks and idempotency keys expire like their
// Redis counterparts.
type MemoryCache struct {
	mu          sync.Mutex
	now         func() time.Time
	locks       map[string]memoryEntry
	idempotency map[string]time.Time
	writes      int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		now:         time.Now,
		locks:       make(map[string]memoryEntry),
		idempotency: make(map[string]time.Time),
	}
}

func (c *MemoryCache) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if held, ok := c.locks[key]; ok && now.Before(held.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	c.locks[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (c *MemoryCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.locks[key]; ok && held.token == token {
		delete(c.locks, key)
	}
	return nil
}

func (c *MemoryCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.writes++
	if c.writes%sweepEvery == 0 {
		c.sweep(now)
	}

	if expires, ok := c.idempotency[key]; ok && now.Before(expires) {
		return false, nil
	}
	c.idempotency[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (c *MemoryCache) DeleteIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.idempotency, key)
	return nil
}

// sweep drops expired entries. Callers hold c.mu.
func (c *MemoryCache) sweep(now time.Time) {
	for key, expires := range c.idempotency {
		if !now.Before(expires) {
			delete(c.idempotency, key)
		}
	}
	for key, held := range c.locks {
		if !now.Before(held.expires) {
			delete(c.locks, key)
		}
	}
}

// size reports how many idempotency keys are retained.
func (c *MemoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idempotency)
}
