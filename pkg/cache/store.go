package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store persists query results. Entries never expire; they stay until
// removed outside the client.
type Store interface {
	// Get returns the entry for key, ErrCacheMiss when there is none, or a
	// *CorruptEntryError when the stored content is not valid JSON.
	Get(ctx context.Context, key CacheKey) (*Entry, error)

	// Set stores data under key, replacing any existing entry.
	Set(ctx context.Context, key CacheKey, data []byte) error
}

// CorruptEntryError reports a stored entry that cannot be decoded.
// errors.Is(err, ErrInvalidEntry) is true for it.
type CorruptEntryError struct {
	Key      string
	Location string
	Err      error
}

// Error implements the error interface.
func (e *CorruptEntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt cache entry %s at %s: %v", e.Key, e.Location, e.Err)
	}
	return fmt.Sprintf("corrupt cache entry %s at %s", e.Key, e.Location)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidEntry.
func (e *CorruptEntryError) Is(target error) bool {
	return target == ErrInvalidEntry
}
