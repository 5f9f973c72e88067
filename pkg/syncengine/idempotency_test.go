package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-automation/pkg/constants"
)

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisIdempotency_ReserveCommitRelease(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisIdempotency(rdb, time.Minute)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "t:1:k")
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := rdb.TTL(ctx, constants.IdempotencyKeyPrefix+"t:1:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ok, err = store.Reserve(ctx, "t:1:k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "t:1:k"))
	ok, err = store.Reserve(ctx, "t:1:k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Commit(ctx, "t:1:k"))
	require.NoError(t, store.Release(ctx, "t:1:k"))

	val, err := rdb.Get(ctx, constants.IdempotencyKeyPrefix+"t:1:k").Result()
	require.NoError(t, err)
	assert.Equal(t, stateCommitted, val)
}

func TestRedisIdempotency_ClearOnlyTouchesPrefix(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisIdempotency(rdb, time.Minute)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Reserve(ctx, key)
		require.NoError(t, err)
	}
	require.NoError(t, rdb.Set(ctx, "unrelated", "1", 0).Err())

	require.NoError(t, store.Clear(ctx))

	keys, err := rdb.Keys(ctx, constants.IdempotencyKeyPrefix+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, int64(1), rdb.Exists(ctx, "unrelated").Val())
}
