package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelSetKey_OrderAndDuplicatesIgnored(t *testing.T) {
	a := LabelSetKey([]string{"WORKS_FOR", "EMPLOYED_BY", "FOUNDED"})
	b := LabelSetKey([]string{"FOUNDED", "EMPLOYED_BY", "WORKS_FOR", "FOUNDED"})
	c := LabelSetKey([]string{"FOUNDED", "EMPLOYED_BY"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestMemoryCache_TTLAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", map[string]string{"EMPLOYED_BY": "EMPLOYED_BY", "WORKS_FOR": "EMPLOYED_BY"}))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "EMPLOYED_BY", got["WORKS_FOR"])

	now = now.Add(2 * time.Hour)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", map[string]string{"A": "A"}))
	require.NoError(t, c.Invalidate(ctx))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCacheWithClient(client, time.Hour, "test")
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", map[string]string{"WORKS_FOR": "EMPLOYED_BY"}))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"WORKS_FOR": "EMPLOYED_BY"}, got)

	assert.Equal(t, time.Hour, mr.TTL("test:0:k"))
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]string{"A": "A"}))
	mr.FastForward(2 * time.Hour)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_InvalidateBumpsGeneration(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]string{"A": "A"}))
	require.NoError(t, c.Invalidate(ctx))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := mr.Get("test:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)

	require.NoError(t, c.Set(ctx, "k", map[string]string{"B": "B"}))
	assert.True(t, mr.Exists("test:1:k"))
}

func TestRedisCache_UnreadableEntryIsAMiss(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:0:k", "{not json"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:0:k"))
}
