// Package ratelimit gates outgoing Warcraft Logs requests.
//
// A token bucket keeps the client below a configured request rate, and a 429
// response puts every client sharing the tracker into a cooldown until the
// server's Retry-After (or a default delay) has passed. With a Redis client
// the cooldown is shared across processes whose trackers have the same
// Config.Scope. Use ScopeForAPIKey so that only clients spending the same
// API key quota block each other.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RedisKeyPrefix prefixes every key holding shared rate limit state.
const RedisKeyPrefix = "wcl:rate_limit:"

// RedisKeys returns the cooldown and last-update keys for scope.
func RedisKeys(scope string) (cooldownUntil, lastUpdate string) {
	base := RedisKeyPrefix
	if scope != "" {
		base += scope + ":"
	}
	return base + "cooldown_until", base + "last_update"
}

// ScopeForAPIKey derives a tracker scope from an API key. The key itself
// never reaches Redis.
func ScopeForAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// State is the current rate limit state as seen by a Tracker.
type State struct {
	// CooldownUntil is the time before which no request may be sent.
	// Zero when no 429 has been observed recently.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is the time of the last 429 that set the cooldown.
	LastUpdate time.Time `json:"last_update"`

	// RequestsPerSecond is the local token bucket rate, 0 when unlimited.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// TokensAvailable is the number of requests that can be sent now
	// without waiting on the local bucket.
	TokensAvailable float64 `json:"tokens_available"`
}

// InCooldown reports whether requests are currently blocked by a 429 cooldown.
func (s *State) InCooldown() bool {
	return s.TimeUntilReset() > 0
}

// TimeUntilReset returns the remaining cooldown, or 0 if it has passed.
func (s *State) TimeUntilReset() time.Duration {
	if s.CooldownUntil.IsZero() {
		return 0
	}
	d := time.Until(s.CooldownUntil)
	if d < 0 {
		return 0
	}
	return d
}
