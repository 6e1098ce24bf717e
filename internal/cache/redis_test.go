package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonops/showledger/internal/config"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{
		Address:   mr.Addr(),
		KeyPrefix: "showledger:",
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "stats:1", stats{Count: 2}))
	assert.True(t, mr.Exists("showledger:stats:1"), "key should carry the prefix")

	var got stats
	ok, err := r.Get(ctx, "stats:1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.Count)

	require.NoError(t, r.Delete(ctx, "stats:1"))
	ok, err = r.Get(ctx, "stats:1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "k", 1))
	assert.Equal(t, time.Minute, mr.TTL("showledger:k"))

	mr.FastForward(2 * time.Minute)

	var v int
	ok, err := r.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok, "value should have expired")
}

func TestRedis_DeleteNothing(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.NoError(t, r.Delete(context.Background()))
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisOptions{Address: addr})
	assert.Error(t, err)
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), config.CacheConfig{
		Type:  "redis",
		TTL:   60,
		Redis: config.RedisConfig{Address: mr.Addr()},
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "redis", c.Name())
}
