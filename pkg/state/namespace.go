package state

import (
	"context"
	"time"
)

// GlobalSession is the sentinel session identifier for the shared scope.
const GlobalSession = "GLOBAL"

// KeyPrefix returns the namespace prefix for a session identifier:
// "session:<sid>:" for real sessions, "global:" for the sentinel.
func KeyPrefix(sessionID string) string {
	if sessionID == "" || sessionID == GlobalSession {
		return "global:"
	}
	return "session:" + sessionID + ":"
}

// namespaced decorates a shared store with a key prefix. Close is a
// no-op: the inner store is shared across sessions and owned by the
// engine.
type namespaced struct {
	inner  Store
	prefix string
}

// Namespaced wraps store so that every key is transparently prefixed.
func Namespaced(store Store, prefix string) Store {
	return &namespaced{inner: store, prefix: prefix}
}

// ForSession wraps store in the namespace derived from a session id.
func ForSession(store Store, sessionID string) Store {
	return Namespaced(store, KeyPrefix(sessionID))
}

func (n *namespaced) Get(ctx context.Context, key string) (any, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return n.inner.Set(ctx, n.prefix+key, value, ttl)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

func (n *namespaced) Increment(ctx context.Context, key string, by float64) (float64, error) {
	return n.inner.Increment(ctx, n.prefix+key, by)
}

func (n *namespaced) Patch(ctx context.Context, key string, value any) error {
	return n.inner.Patch(ctx, n.prefix+key, value)
}

func (n *namespaced) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.inner.Keys(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(n.prefix):])
	}
	return out, nil
}

// Close never closes the shared inner store.
func (n *namespaced) Close() error { return nil }
