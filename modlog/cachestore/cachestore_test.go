package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testCacheStore(t *testing.T, cs CacheStore) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	val, err := cs.Get(ctx, "config", "1")
	require.NoError(err)
	assert.Empty(val)

	_, err = GetJSON[sample](ctx, cs, "config", "1")
	assert.ErrorIs(err, ErrMiss)

	require.NoError(SetJSON(ctx, cs, "config", "1", sample{Name: "one", Count: 1}))
	got, err := GetJSON[sample](ctx, cs, "config", "1")
	require.NoError(err)
	assert.Equal("one", got.Name)
	assert.Equal(1, got.Count)

	// names partition the key space
	val, err = cs.Get(ctx, "other", "1")
	require.NoError(err)
	assert.Empty(val)

	require.NoError(cs.Purge(ctx, "config", "1"))
	_, err = GetJSON[sample](ctx, cs, "config", "1")
	assert.ErrorIs(err, ErrMiss)

	// purging a missing key is fine
	assert.NoError(cs.Purge(ctx, "config", "404"))
}

func TestMemCacheStore(t *testing.T) {
	testCacheStore(t, NewMemCacheStore(100, time.Minute))
}

func TestRedisCacheStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	testCacheStore(t, NewRedisCacheStoreFromClient(rdb, time.Minute))
}

func TestRedisCacheStoreConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	cs, err := NewRedisCacheStore(context.Background(), "redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, cs.Set(context.Background(), "config", "2", "x"))

	// the value lands in redis itself
	assert.True(t, mr.Exists("modledger/cache/config/2"))

	_, err = NewRedisCacheStore(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}
