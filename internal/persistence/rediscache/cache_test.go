package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := New(&Config{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	return c, mr
}

func TestCache_GetMissReturnsNotFoundNotError(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()

	_, found, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_SetThenGetRoundTripsRawBytes(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("cached-operation-result"), time.Minute))

	value, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cached-operation-result", string(value))
}

func TestCache_DeleteIsIdempotent(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))
	require.NoError(t, c.Delete(ctx, "key"))

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_RespectsTTL(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Client_SharesConnectionForDistributedLock(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()

	assert.NotNil(t, c.Client())
}
