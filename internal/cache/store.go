package cache

import (
	"context"
	"time"
)

// Entry is one cached provider response.
type Entry struct {
	Key       string
	Data      []byte
	ExpiresAt time.Time
	Provider  string
	Method    string
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is the persistence backend behind a ResponseCache.
// Implementations return store.ErrStorageUnavailable (wrapped) when the
// backend cannot be reached at all.
type Store interface {
	// Get returns the entry for key, or nil without error when absent.
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteExpired removes entries whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// DeleteProvider removes every entry written for provider.
	DeleteProvider(ctx context.Context, provider string) (int, error)
	// EvictOldest removes the n entries with the earliest expiry.
	EvictOldest(ctx context.Context, n int) (int, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
