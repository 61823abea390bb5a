package lrucache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))

	value, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "value", string(value))

	require.NoError(t, c.Delete(ctx, "key"))
	_, found, err = c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_EvictsLeastRecentlyUsedPastSize(t *testing.T) {
	c := New(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found, "oldest entry should have been evicted once size exceeded 2")

	_, found, err = c.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestNew_AppliesDefaultsForNonPositiveArgs(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("value"), 0))
	value, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "value", string(value))
}
