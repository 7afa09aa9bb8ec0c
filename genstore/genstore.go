// Package genstore keeps the generation counter of each persisted snapshot.
//
// A snapshot is written together with the generation current at save time.
// Invalidate bumps the generation, so any snapshot saved before that is
// stale and is rejected (and deleted) on load, even if a slow writer puts it
// back after the invalidation.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore for a single process, RedisGenStore when several
// processes share one persisted snapshot.
type GenStore interface {
	// Current returns the generation of key; missing => 0.
	Current(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes entries idle longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
