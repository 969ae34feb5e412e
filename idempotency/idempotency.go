// Package idempotency de-duplicates client retries of mutating requests.
//
// A request carrying an Idempotency-Key is reserved with MarkProcessed before
// the engine runs it. A second request with the same key inside the TTL is
// rejected. A request that fails is released so the client can retry.
package idempotency

import (
	"context"
	"time"
)

// Store records processed request keys.
type Store interface {
	// MarkProcessed returns true if key was newly reserved, false if it was
	// already processed (or in flight) within ttl.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets key so the request may be retried.
	Release(ctx context.Context, key string) error

	Close() error
}
