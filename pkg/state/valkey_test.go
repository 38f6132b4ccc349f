package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkey "github.com/valkey-io/valkey-go"
)

func newTestValkey(t *testing.T) (*Valkey, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{mr.Addr()},
		ForceSingleClient: true,
		DisableCache:      true,
	})
	require.NoError(t, err)
	v := NewValkeyWithClient(client, "sandboxd:")
	t.Cleanup(func() { v.Close() })
	return v, mr
}

func TestValkeySetGetDelete(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	_, ok, err := v.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Set(ctx, "k", map[string]any{"a": float64(1)}, 0))
	got, ok, err := v.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	require.NoError(t, v.Delete(ctx, "k"))
	_, ok, err = v.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValkeyTTL(t *testing.T) {
	v, mr := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "k", "v", 10*time.Second))

	mr.FastForward(9 * time.Second)
	_, ok, err := v.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = v.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValkeyIncrement(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	n, err := v.Increment(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)

	n, err = v.Increment(ctx, "c", 2.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, n)
}

func TestValkeyIncrementNonNumericPrior(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "s", "text", 0))
	n, err := v.Increment(ctx, "s", 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, n)
}

func TestValkeyPatch(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "cart", map[string]any{"items": []any{"a"}, "total": float64(1)}, 0))
	require.NoError(t, v.Patch(ctx, "cart", map[string]any{"total": float64(2), "coupon": "X"}))

	got, ok, err := v.Get(ctx, "cart")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"items": []any{"a"}, "total": float64(2), "coupon": "X"}, got)
}

func TestValkeyPatchArrayConcat(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "log", []any{"a", "b"}, 0))
	require.NoError(t, v.Patch(ctx, "log", []any{"c"}))

	got, ok, err := v.Get(ctx, "log")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestValkeyPatchAbsentKey(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Patch(ctx, "fresh", map[string]any{"a": float64(1)}))
	got, ok, err := v.Get(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)
}

func TestValkeyPatchPreservesTTL(t *testing.T) {
	v, mr := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "k", map[string]any{"a": float64(1)}, 10*time.Second))
	require.NoError(t, v.Patch(ctx, "k", map[string]any{"b": float64(2)}))

	ttl := mr.TTL("sandboxd:k")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 10*time.Second)
}

func TestValkeyKeys(t *testing.T) {
	v, _ := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "session:a:x", float64(1), 0))
	require.NoError(t, v.Set(ctx, "session:a:y", float64(2), 0))
	require.NoError(t, v.Set(ctx, "session:b:x", float64(3), 0))

	keys, err := v.Keys(ctx, "session:a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:a:x", "session:a:y"}, keys)
}

func TestValkeyKeyPrefixIsolation(t *testing.T) {
	v, mr := newTestValkey(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "k", "v", 0))
	assert.True(t, mr.Exists("sandboxd:k"), "stored keys carry the configured prefix")
}
