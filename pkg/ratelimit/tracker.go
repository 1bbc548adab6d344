package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sunwave_rate_limit_hits_total",
		Help: "Total number of 429 responses received",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sunwave_rate_limit_blocks_total",
		Help: "Total number of requests delayed by an active rate limit block",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sunwave_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit block to pass",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	})
)

// Tracker records throttling responses and delays requests while blocked.
// The Redis client is optional; without it the state is process local.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local RateLimitState
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// GetState returns the most restrictive of the local and the shared state.
// A shared block whose last update is older than MaxRetryAfter is ignored.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	t.mu.Lock()
	state := t.local
	t.mu.Unlock()

	if t.redis == nil {
		return &state, nil
	}

	vals, err := t.redis.MGet(ctx, RedisKeyBlockedUntil, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get shared rate limit state: %w", err)
	}

	var shared RateLimitState
	if shared.BlockedUntil, err = unixMilliValue(vals[0]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", RedisKeyBlockedUntil, err)
	}
	if shared.BlockedUntil.IsZero() {
		return &state, nil
	}
	if shared.LastUpdate, err = unixMilliValue(vals[1]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", RedisKeyLastUpdate, err)
	}

	if !shared.LastUpdate.IsZero() && shared.IsStale(t.now(), MaxRetryAfter) {
		t.logger.Debug().
			Time("last_update", shared.LastUpdate).
			Msg("Ignoring stale shared rate limit state")
		return &state, nil
	}

	if shared.BlockedUntil.After(state.BlockedUntil) {
		state.BlockedUntil = shared.BlockedUntil
	}
	if shared.LastUpdate.After(state.LastUpdate) {
		state.LastUpdate = shared.LastUpdate
	}
	return &state, nil
}

// unixMilliValue decodes one MGET slot. A missing key yields the zero time.
func unixMilliValue(v any) (time.Time, error) {
	raw, ok := v.(string)
	if !ok {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// UpdateFromResponse blocks requests after a 429. Other statuses are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	if statusCode != http.StatusTooManyRequests {
		return nil
	}
	rateLimitHitsTotal.Inc()

	now := t.now()
	wait := ParseRetryAfter(headers.Get("Retry-After"), now)
	until := now.Add(wait)

	t.mu.Lock()
	if until.After(t.local.BlockedUntil) {
		t.local.BlockedUntil = until
	}
	t.local.LastUpdate = now
	t.mu.Unlock()

	t.logger.Warn().
		Dur("retry_after", wait).
		Time("blocked_until", until).
		Msg("Sunwave rate limit hit - requests will be delayed")

	if t.redis == nil || wait <= 0 {
		return nil
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyBlockedUntil, until.UnixMilli(), wait)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Wait blocks until no rate limit block is active or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	wait := state.TimeUntilReset(t.now())
	if wait <= 0 {
		return nil
	}

	rateLimitBlocksTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())
	t.logger.Warn().
		Dur("wait_duration", wait).
		Msg("Sunwave rate limit active - delaying request")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Missing or invalid
// values give DefaultRetryAfter; results are capped at MaxRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultRetryAfter
	}

	switch {
	case d <= 0:
		return 0
	case d > MaxRetryAfter:
		return MaxRetryAfter
	default:
		return d
	}
}
