package cache

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get and Store.TTL when the key is absent
// or expired.
var ErrNotFound = errors.New("cache: key not found")

// ErrWrongType is returned when a value operation targets a set key.
var ErrWrongType = errors.New("cache: operation against a key holding the wrong kind of value")

// Item represents a single item in cache and will contain the results of a
// single SQL query.
type Item struct {
	Cols []string
	Rows [][]driver.Value
}

// Len returns the number of rows held by the item.
func (i *Item) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Rows)
}

// Maps returns the rows as column-name keyed maps, in row order.
func (i *Item) Maps() []map[string]interface{} {
	if i == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(i.Rows))
	for _, row := range i.Rows {
		m := make(map[string]interface{}, len(i.Cols))
		for c, col := range i.Cols {
			if c < len(row) {
				m[col] = row[c]
			}
		}
		out = append(out, m)
	}
	return out
}

// Store represents a backend key/value store that can be used by the cache
// layer. Values are opaque bytes; serialization is the caller's concern.
//
// Every method must be safe for concurrent use. Increment must be atomic
// across all clients sharing the backend.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound. Get on a set
	// fails with ErrWrongType and leaves the set intact.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes every key matching a glob pattern where '*'
	// matches any run of characters. It returns the number of keys removed.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Increment atomically adds one to the integer stored under key,
	// treating a missing key as zero, and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets a ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key. Zero means no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// AddMembers adds members to the set stored under key.
	AddMembers(ctx context.Context, key string, members ...string) error
	// Members returns the members of the set stored under key.
	Members(ctx context.Context, key string) ([]string, error)
}
