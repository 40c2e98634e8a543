package cache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceKeyCanonicalizesQuery(t *testing.T) {
	a := ResourceKey("user", "/user", url.Values{"sort": {"name"}, "include": {"posts"}})
	b := ResourceKey("user", "/user", url.Values{"include": {"posts"}, "sort": {"name"}})
	assert.Equal(t, a, b)

	c := ResourceKey("user", "/user", url.Values{"sort": {"-name"}})
	assert.NotEqual(t, a, c)

	assert.Contains(t, a, TypePrefix("user"))
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_, err := mc.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Minute))
	value, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, mc.Delete(ctx, "k"))
	_, err = mc.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := mc.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "user:a", []byte("1"), time.Minute))
	require.NoError(t, mc.Set(ctx, "user:b", []byte("2"), time.Minute))
	require.NoError(t, mc.Set(ctx, "post:a", []byte("3"), time.Minute))

	require.NoError(t, mc.DeletePrefix(ctx, TypePrefix("user")))

	_, err := mc.Get(ctx, "user:a")
	assert.True(t, IsCacheMiss(err))
	_, err = mc.Get(ctx, "user:b")
	assert.True(t, IsCacheMiss(err))

	value, err := mc.Get(ctx, "post:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
}

func newRedisTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return NewRedisCacheWithClient(client, DefaultConfig()), server
}

func TestRedisCacheRoundTrip(t *testing.T) {
	rc, _ := newRedisTestCache(t)
	defer rc.Close()
	ctx := context.Background()

	_, err := rc.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Minute))
	value, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, rc.Delete(ctx, "k"))
	_, err = rc.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCacheDeletePrefix(t *testing.T) {
	rc, _ := newRedisTestCache(t)
	defer rc.Close()
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "user:a", []byte("1"), time.Minute))
	require.NoError(t, rc.Set(ctx, "post:a", []byte("2"), time.Minute))

	require.NoError(t, rc.DeletePrefix(ctx, TypePrefix("user")))

	_, err := rc.Get(ctx, "user:a")
	assert.True(t, IsCacheMiss(err))

	value, err := rc.Get(ctx, "post:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)
}

func TestRedisCacheExpiry(t *testing.T) {
	rc, server := newRedisTestCache(t)
	defer rc.Close()
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Second))
	server.FastForward(2 * time.Second)

	_, err := rc.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}
