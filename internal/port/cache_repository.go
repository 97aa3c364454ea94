package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// AcquireLock sets key if absent and returns the holder's token, or
	// ok false if it is already held
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock drops the lock only while it still carries token
	ReleaseLock(ctx context.Context, key, token string) error
}
