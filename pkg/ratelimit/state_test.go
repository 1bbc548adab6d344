package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsBlocked(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		blockedUntil time.Time
		expected     bool
	}{
		{
			name:         "zero state",
			blockedUntil: time.Time{},
			expected:     false,
		},
		{
			name:         "block in future",
			blockedUntil: now.Add(10 * time.Second),
			expected:     true,
		},
		{
			name:         "block already passed",
			blockedUntil: now.Add(-10 * time.Second),
			expected:     false,
		},
		{
			name:         "block ends exactly now",
			blockedUntil: now,
			expected:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{BlockedUntil: tt.blockedUntil}
			if got := state.IsBlocked(now); got != tt.expected {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		until    time.Time
		expected time.Duration
	}{
		{"reset in future", now.Add(5 * time.Minute), 5 * time.Minute},
		{"reset already passed", now.Add(-5 * time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{BlockedUntil: tt.until}
			if got := state.TimeUntilReset(now); got != tt.expected {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_IsStale(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	state := &RateLimitState{LastUpdate: now.Add(-2 * time.Minute)}

	if !state.IsStale(now, time.Minute) {
		t.Error("expected state older than maxAge to be stale")
	}
	if state.IsStale(now, 5*time.Minute) {
		t.Error("expected recent state not to be stale")
	}
}
