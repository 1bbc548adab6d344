package state

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/sunwave-tap/pkg/stream"
)

// KeyPrefix namespaces bookmark keys in Redis.
const KeyPrefix = "sunwave:state:"

// Key identifies one bookmark: a stream, optionally scoped to a partition.
type Key struct {
	// Stream is the stream name (e.g., "opportunity")
	Stream string

	// Partition is the static partition context (e.g., {"census_status": "active"}).
	// Empty for stream-level bookmarks.
	Partition stream.Context
}

// ID renders the key without the Redis prefix.
// Format: stream[:k1=v1,k2=v2] with partition keys sorted.
//
// Example:
//
//	census:census_status=active
func (k Key) ID() string {
	if len(k.Partition) == 0 {
		return k.Stream
	}
	return k.Stream + ":" + k.Partition.String()
}

// String generates the deterministic Redis key.
func (k Key) String() string {
	return KeyPrefix + k.ID()
}

// ParseKey is the inverse of Key.ID.
func ParseKey(id string) (Key, error) {
	name, rest, scoped := strings.Cut(id, ":")
	if name == "" {
		return Key{}, fmt.Errorf("%w: empty stream in %q", ErrInvalidKey, id)
	}

	key := Key{Stream: name}
	if !scoped {
		return key, nil
	}

	key.Partition = stream.Context{}
	for _, pair := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return Key{}, fmt.Errorf("%w: bad partition %q in %q", ErrInvalidKey, pair, id)
		}
		key.Partition[k] = v
	}
	return key, nil
}
