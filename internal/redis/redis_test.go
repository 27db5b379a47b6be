package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockExcludesConcurrentHolder(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	err := locker.WithLock(ctx, "transfer:t1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:transfer:t1"))

		inner := locker.WithLock(ctx, "transfer:t1", func(context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		// A different resource is independent.
		return locker.WithLock(ctx, "transfer:t2", func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:transfer:t1"), "lock released after fn returns")
}

func TestWithLockPropagatesError(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "transfer:t1", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:transfer:t1"))
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := &redisLocker{client: client, ttl: time.Second}

	require.NoError(t, mr.Set("lock:transfer:t1", "someone-else"))
	require.NoError(t, l.release(context.Background(), "lock:transfer:t1", "mine"))

	got, err := mr.Get("lock:transfer:t1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestTokenStoreSingleUse(t *testing.T) {
	mr, client := setupTestRedis(t)
	tokens := NewRedisTokenStore(client, "resolution")
	ctx := context.Background()

	token, err := tokens.Issue(ctx, []byte(`{"decision":"approved"}`), time.Minute)
	require.NoError(t, err)

	peeked, err := tokens.Peek(ctx, token)
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"approved"}`, string(peeked))

	data, err := tokens.Redeem(ctx, token)
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"approved"}`, string(data))

	_, err = tokens.Redeem(ctx, token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	expiring, err := tokens.Issue(ctx, []byte(`{}`), time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = tokens.Redeem(ctx, expiring)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}
