package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	now = now.Add(24 * time.Hour)
	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)

	n, err := c.Del(ctx, "forever", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetOrSetJSON_LoadsOnce(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"message.read", "message.send"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrSetJSON(ctx, c, "user:permissions:u1", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"message.read", "message.send"}, got)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrSetJSON_LoadErrorIsNotCached(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := GetOrSetJSON(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "teamdesk:test", "v", time.Minute))
	v, err := c.Get(ctx, "teamdesk:test")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = c.Del(ctx, "teamdesk:test")
	require.NoError(t, err)
	_, err = c.Get(ctx, "teamdesk:test")
	assert.ErrorIs(t, err, ErrMiss)
}
