// Package state stores replication bookmarks for incremental streams.
//
// A bookmark is the largest replication-key value seen for a stream (or a
// stream partition). Bookmarks are kept as RFC 3339 UTC strings and only
// ever move forward:
//
//   - MemoryStore keeps them for a single run
//   - RedisStore persists them and advances atomically with a Lua script
//   - Keys are deterministic: stream name plus sorted partition context
//
// # Basic Usage
//
//	store := state.NewRedisStore(redisClient)
//
//	key := state.Key{Stream: "opportunity"}
//	bookmark, err := store.Get(ctx, key)
//	if errors.Is(err, state.ErrNotFound) {
//		// first run - start from the configured start date
//	}
//
//	moved, err := store.Advance(ctx, key, "2024-03-05T14:07:09Z")
//
// # Emitting State
//
//	values, err := store.Snapshot(ctx)
//	// {"opportunity": "2024-03-05T14:07:09Z", "census:census_status=active": ...}
//
// Snapshot output can be fed back with Seed on the next run.
package state
