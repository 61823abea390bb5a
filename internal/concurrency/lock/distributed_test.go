package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPairLock_SecondAcquireFailsUntilFirstReleases(t *testing.T) {
	client := setupTestRedis(t)
	cfg := DistributedLockConfig{TTL: time.Second, MaxRetries: 0, RetryInterval: time.Millisecond, ValuePrefix: "test"}
	pl := NewRedisPairLock(client, cfg, nil)

	release, err := pl.Lock(context.Background(), "acme::billing")
	require.NoError(t, err)

	_, err = pl.Lock(context.Background(), "acme::billing")
	assert.Error(t, err, "expected a held key to fail a second acquire once its retries exhaust")

	release()

	release2, err := pl.Lock(context.Background(), "acme::billing")
	require.NoError(t, err, "expected the lock to be acquirable again once released")
	release2()
}

func TestRedisPairLock_DifferentKeysDoNotContend(t *testing.T) {
	client := setupTestRedis(t)
	cfg := DistributedLockConfig{TTL: time.Second, MaxRetries: 0, RetryInterval: time.Millisecond, ValuePrefix: "test"}
	pl := NewRedisPairLock(client, cfg, nil)

	releaseA, err := pl.Lock(context.Background(), "acme::billing")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := pl.Lock(context.Background(), "acme::theming")
	require.NoError(t, err, "expected an unrelated key to acquire independently")
	releaseB()
}

func TestDefaultDistributedLockConfig_AppliesWhenZeroValue(t *testing.T) {
	client := setupTestRedis(t)
	pl := NewRedisPairLock(client, DistributedLockConfig{}, nil)
	assert.Equal(t, DefaultDistributedLockConfig(), pl.cfg)
}
