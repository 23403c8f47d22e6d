package cache

import (
	"context"
	"time"
)

// DefaultTTL applies when a store is built with a non-positive TTL.
const DefaultTTL = time.Hour

// Cache stores results by key. Get reports absent for entries older than
// the store's TTL; Clear with an empty key removes everything.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Put(ctx context.Context, key string, value T) error
	Clear(ctx context.Context, key string) error
}

type Entry[T any] struct {
	Value    T         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

func (e Entry[T]) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}
