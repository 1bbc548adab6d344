package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/stream"
)

var (
	// ErrNotFound indicates no bookmark is stored for the key
	ErrNotFound = errors.New("bookmark not found")

	// ErrInvalidBookmark indicates a value that is not a datetime
	ErrInvalidBookmark = errors.New("invalid bookmark")

	// ErrInvalidKey indicates a malformed key id
	ErrInvalidKey = errors.New("invalid state key")
)

// Store persists replication bookmarks. Advance never moves a bookmark
// backwards; implementations must be safe for concurrent use.
type Store interface {
	// Get returns the bookmark for key or ErrNotFound.
	Get(ctx context.Context, key Key) (string, error)

	// Advance stores value if it is later than the current bookmark and
	// reports whether it did.
	Advance(ctx context.Context, key Key, value string) (bool, error)

	// Snapshot returns every bookmark keyed by Key.ID.
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Normalize parses value as a datetime and renders it as RFC 3339 UTC with
// second precision, so normalized bookmarks compare correctly as strings.
func Normalize(value string) (string, error) {
	t, ok := stream.ParseTime(value)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidBookmark, value)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// Seed advances every bookmark in values, keyed by Key.ID.
func Seed(ctx context.Context, store Store, values map[string]string) error {
	for id, value := range values {
		key, err := ParseKey(id)
		if err != nil {
			return err
		}
		if _, err := store.Advance(ctx, key, value); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return nil
}

// MemoryStore keeps bookmarks in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the bookmark for key.
func (m *MemoryStore) Get(ctx context.Context, key Key) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key.ID()]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Advance moves the bookmark forward.
func (m *MemoryStore) Advance(ctx context.Context, key Key, value string) (bool, error) {
	norm, err := Normalize(value)
	if err != nil {
		StateErrors.WithLabelValues("advance").Inc()
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := key.ID()
	if cur, ok := m.values[id]; ok && norm <= cur {
		return false, nil
	}
	m.values[id] = norm
	BookmarkAdvances.WithLabelValues(key.Stream).Inc()
	return true, nil
}

// Snapshot returns a copy of all bookmarks.
func (m *MemoryStore) Snapshot(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}
