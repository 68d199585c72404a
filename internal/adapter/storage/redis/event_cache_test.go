package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCache_SeenAfterMark(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewEventCache(client)
	ctx := context.Background()

	key := "bc1qescrow:deadbeef"

	seen, err := cache.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen, "unmarked key should not be seen")

	err = cache.MarkSeen(ctx, key, 48*time.Hour)
	require.NoError(t, err)

	seen, err = cache.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestEventCache_KeysAreIndependent(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewEventCache(client)
	ctx := context.Background()

	require.NoError(t, cache.MarkSeen(ctx, "bc1qescrow:deadbeef", 48*time.Hour))

	seen, err := cache.Seen(ctx, "bc1qescrow:cafebabe")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEventCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewEventCache(client)
	ctx := context.Background()

	require.NoError(t, cache.MarkSeen(ctx, "bc1qescrow:cafe", 1*time.Hour))

	s.FastForward(2 * time.Hour)

	seen, err := cache.Seen(ctx, "bc1qescrow:cafe")
	require.NoError(t, err)
	assert.False(t, seen, "key should expire after TTL")
}
