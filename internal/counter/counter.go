// Package counter holds the keyed counter state shared by the lockout tracker and the
// rate limiter. Every backend serializes read-modify-write per key, so two concurrent
// updates of the same key never lose an increment.
package counter

import (
	"context"
	"time"
)

// Record is a counter with an optional deadline. A zero Until means no deadline.
type Record struct {
	Count int
	Until time.Time
}

// UpdateFunc computes the next record from the current one. found is false when the
// key has no live record.
type UpdateFunc func(current Record, found bool) Record

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	// Update applies fn atomically and stores the result for ttl. A ttl <= 0 keeps the
	// record until it is deleted.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (Record, error)
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that need explicit removal of expired records.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}
