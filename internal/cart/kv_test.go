package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryKVExpiresIdleSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	kv := &MemoryKV{TTL: time.Hour, now: func() time.Time { return now }}
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "session:a:medihub_cart_v1", "[]"))
	require.NoError(t, kv.Set(ctx, "session:b:medihub_cart_v1", "[]"))

	now = now.Add(50 * time.Minute)
	_, ok, err := kv.Get(ctx, "session:a:medihub_cart_v1")
	require.NoError(t, err)
	require.True(t, ok, "read refreshes expiry")

	now = now.Add(20 * time.Minute)
	require.Equal(t, 1, kv.Sweep())
	require.Equal(t, 1, kv.Len())

	_, ok, _ = kv.Get(ctx, "session:b:medihub_cart_v1")
	require.False(t, ok)

	now = now.Add(time.Hour)
	_, ok, _ = kv.Get(ctx, "session:a:medihub_cart_v1")
	require.False(t, ok)
	require.Zero(t, kv.Len())
}

func TestMemoryKVWithoutTTLKeepsEntries(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), "k", "v"))
	require.Zero(t, kv.Sweep())
	v, ok, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}
