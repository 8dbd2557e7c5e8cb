package port

import "context"

type CacheRepository interface {
	// AcquireIdempotency claims key, returns false if it is already held
	AcquireIdempotency(ctx context.Context, key, token string) (bool, error)

	// ReleaseIdempotency frees key if it is still held by token (for rollback on failure)
	ReleaseIdempotency(ctx context.Context, key, token string) error
}
