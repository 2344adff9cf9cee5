package cache

import (
	"time"

	"github.com/goccy/go-json"
)

// Entry represents a cached query result.
type Entry struct {
	// Key is the string form of the CacheKey the entry was stored under.
	Key string `json:"key"`

	// Data is the raw merged JSON payload.
	Data json.RawMessage `json:"data"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was written.
func (e *Entry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}
