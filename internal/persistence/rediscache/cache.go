// Package rediscache implements the operation engine's opengine.Cache
// contract directly on a *redis.Client, storing each cached result's
// raw bytes verbatim (no JSON envelope, since the engine already hands
// the cache an encoded value).
package rediscache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed opengine.Cache.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New constructs a Cache from an explicit configuration, pinging Redis
// once to fail fast on a bad address.
func New(config *Config, logger *slog.Logger) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            config.Addr,
		Password:        config.Password,
		DB:              config.DB,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		MaxRetries:      config.MaxRetries,
		MinRetryBackoff: config.MinRetryBackoff,
		MaxRetryBackoff: config.MaxRetryBackoff,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err, "addr", config.Addr)
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	logger.Info("connected to redis", "addr", config.Addr, "db", config.DB)
	return &Cache{client: client, logger: logger}, nil
}

// NewFromURL constructs a Cache from a redis:// URL, as REDIS_URL is
// set in deployments.
func NewFromURL(url string, logger *slog.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	config := &Config{
		Addr:            opt.Addr,
		Password:        opt.Password,
		DB:              opt.DB,
		PoolSize:        10,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
	return New(config, logger)
}

// Get returns a cached result's raw bytes. A missing key is reported
// as found=false rather than an error, matching opengine.Cache's
// contract that a cache miss is a normal outcome.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key. Deleting an already-absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Client exposes the underlying *redis.Client so callers can build a
// DistributedLock against the same connection pool instead of opening
// a second one.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close shuts down the client's connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
