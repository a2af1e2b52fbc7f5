package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "chunk:12:ff", ChunkKey(12, 255))
	assert.NotEqual(t, ChunkKey(1, 2), ChunkKey(1, 3), "Новая геометрия даёт новый ключ")
}

func TestMemoryCache(t *testing.T) {
	c, err := NewMemoryCache(1<<20, time.Minute)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	payload := []byte("glTF payload")
	require.NoError(t, c.Set(ctx, "chunk:0:1", payload))
	c.Wait()
	payload[0] = 'X'

	got, err := c.Get(ctx, "chunk:0:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF payload"), got, "Кеш хранит копию")

	got[0] = 'Y'
	again, err := c.Get(ctx, "chunk:0:1")
	require.NoError(t, err)
	assert.Equal(t, byte('g'), again[0])

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio(), 1e-9)
}

func TestNewBackends(t *testing.T) {
	c, err := New(Options{TTL: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(Options{Backend: "memcached"})
	assert.Error(t, err)

	assert.Zero(t, Stats{}.HitRatio())
}

// Требует запущенный Redis: SANDBLOX_REDIS_URL=localhost:6379
func TestRedisCache(t *testing.T) {
	url := os.Getenv("SANDBLOX_REDIS_URL")
	if url == "" {
		t.Skip("SANDBLOX_REDIS_URL не задан")
	}

	c, err := New(Options{Backend: "redis", RedisURL: url, TTL: 10 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	key := "sandblox-test:" + uuid.NewString()
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, []byte{1, 2, 3}))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}
