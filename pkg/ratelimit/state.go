// Package ratelimit tracks Sunwave throttling responses and gates requests.
// A 429 response (with an optional Retry-After header) blocks every worker
// until the advertised time; with Redis the block is shared across processes.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyBlockedUntil = "sunwave:rate_limit:blocked_until"
	RedisKeyLastUpdate   = "sunwave:rate_limit:last_update"
)

// Back-off bounds applied to Retry-After.
const (
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 5 * time.Second

	// MaxRetryAfter caps what the server may ask for.
	MaxRetryAfter = 5 * time.Minute
)

// RateLimitState is the current throttling state.
type RateLimitState struct {
	// BlockedUntil is the earliest time the next request may be sent.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether requests must wait at now.
func (s *RateLimitState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilReset returns how long requests must still wait.
// Returns 0 if the block has already passed.
func (s *RateLimitState) TimeUntilReset(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}
