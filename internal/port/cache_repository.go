package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// AcquireLock takes key for ttl. It returns a token for ReleaseLock, or
	// ok == false when someone else holds the key.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock frees key only if token still owns it
	ReleaseLock(ctx context.Context, key, token string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// DeleteIdempotency forgets a key whose request did not complete
	DeleteIdempotency(ctx context.Context, key string) error
}
