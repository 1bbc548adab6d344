package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// advanceScript sets KEYS[1] to ARGV[1] only when it sorts after the
// current value. Values are normalized RFC 3339 UTC strings.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or ARGV[1] > cur then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps bookmarks in Redis so they survive restarts and are
// shared between processes.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a new bookmark store with Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Get retrieves a bookmark by key.
// Returns ErrNotFound if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key Key) (string, error) {
	v, err := s.redis.Get(ctx, key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		StateErrors.WithLabelValues("get").Inc()
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Advance atomically moves the bookmark forward.
func (s *RedisStore) Advance(ctx context.Context, key Key, value string) (bool, error) {
	norm, err := Normalize(value)
	if err != nil {
		StateErrors.WithLabelValues("advance").Inc()
		return false, err
	}

	moved, err := advanceScript.Run(ctx, s.redis, []string{key.String()}, norm).Int()
	if err != nil {
		StateErrors.WithLabelValues("advance").Inc()
		return false, fmt.Errorf("redis advance: %w", err)
	}
	if moved == 1 {
		BookmarkAdvances.WithLabelValues(key.Stream).Inc()
		return true, nil
	}
	return false, nil
}

// Snapshot scans all bookmark keys.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)

	iter := s.redis.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		StateErrors.WithLabelValues("snapshot").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		StateErrors.WithLabelValues("snapshot").Inc()
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, k := range keys {
		// deleted between SCAN and MGET
		v, ok := values[i].(string)
		if !ok {
			continue
		}
		out[strings.TrimPrefix(k, KeyPrefix)] = v
	}
	return out, nil
}
