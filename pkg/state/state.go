// Package state provides the session-scoped key-value contract used by
// rule actions, with three backends: in-memory (TTL wheel), append-log
// file (snapshot compaction), and valkey (atomic server-side merge).
//
// The store sees only flat keys; the request pipeline injects the
// session namespace via the Namespaced decorator.
package state

import (
	"context"
	"errors"
	"time"
)

// Store is the uniform backend contract. All methods honor the context
// deadline; the pipeline surfaces deadline expiry as a 504 problem.
type Store interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value any, ok bool, err error)

	// Set stores value. A positive ttl sets an absolute expiry of
	// now+ttl; ttl zero clears any prior expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment adds by to the numeric value at key and returns the new
	// value. Absent or non-numeric prior values count as 0. Any prior
	// expiry is preserved.
	Increment(ctx context.Context, key string, by float64) (float64, error)

	// Patch merges value into the existing entry with Merge semantics.
	// Any prior expiry is preserved.
	Patch(ctx context.Context, key string, value any) error

	// Keys lists keys with the given prefix. Used by the read-only
	// state projection handed to templates.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close flushes and releases the backend.
	Close() error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state: store closed")

// Entry is the persisted form of one value, used by the file backend's
// snapshot format and exposed for tests.
type Entry struct {
	Value     any        `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Merge implements the patch semantics shared by all backends:
//
//	absent existing        → incoming
//	object onto object     → one-level key override
//	array onto array       → concatenation, existing first
//	anything else          → incoming replaces
//
// Nested objects replace rather than merge; only the top layer of keys
// is overridden.
func Merge(existing, incoming any) any {
	switch ex := existing.(type) {
	case map[string]any:
		in, ok := incoming.(map[string]any)
		if !ok {
			return incoming
		}
		merged := make(map[string]any, len(ex)+len(in))
		for k, v := range ex {
			merged[k] = v
		}
		for k, v := range in {
			merged[k] = v
		}
		return merged
	case []any:
		in, ok := incoming.([]any)
		if !ok {
			return incoming
		}
		merged := make([]any, 0, len(ex)+len(in))
		merged = append(merged, ex...)
		return append(merged, in...)
	default:
		return incoming
	}
}

// Numeric coerces the numeric types a JSON/YAML round-trip can produce.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
