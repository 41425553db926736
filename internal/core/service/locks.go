package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/observability"
)

func productKey(code int64) string { return "product:" + strconv.FormatInt(code, 10) }
func rackKey(label string) string  { return "rack:" + label }
func nameKey(name string) string   { return "product-name:" + name }

type heldLock struct {
	key   string
	token string
}

// lock acquires keys in sorted order, waiting at most lockWait for each
// batch. The returned func releases them. Callers that lock twice always
// take the product key first, so two batches cannot deadlock.
func (s *InventoryService) lock(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	deadline := time.Now().Add(s.lockWait)
	held := make([]heldLock, 0, len(keys))
	release := func() {
		// release must run even when the request context is already cancelled
		rctx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if err := s.cache.ReleaseLock(rctx, held[i].key, held[i].token); err != nil {
				observability.LoggerFrom(ctx, s.logger).Warn("failed to release lock",
					zap.String("key", held[i].key),
					zap.Error(err),
				)
			}
		}
	}

	for _, key := range keys {
		token, err := s.acquire(ctx, key, deadline)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, heldLock{key: key, token: token})
	}
	return release, nil
}

func (s *InventoryService) acquire(ctx context.Context, key string, deadline time.Time) (string, error) {
	for {
		token, ok, err := s.cache.AcquireLock(ctx, key, s.lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", domain.ErrBusy
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}
