// Package lrucache is a bounded in-memory opengine.Cache, used when no
// Redis deployment backs a single-node installation.
package lrucache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache bounds entries by count and by a per-item TTL, using the same
// hashicorp/golang-lru/v2 family the Registry uses for its access
// tracker (internal/registry/registry.go), swapped for the expirable
// variant since cached operation results need to expire on their own
// schedule rather than only by eviction pressure.
type Cache struct {
	lru *expirable.LRU[string, []byte]
}

// New builds a cache holding up to size entries, all sharing
// defaultTTL. expirable.LRU sweeps on a single cache-wide TTL rather
// than a per-key one, so Set's ttl argument (required to satisfy
// opengine.Cache) is accepted but not separately honored per entry.
func New(size int, defaultTTL time.Duration) *Cache {
	if size <= 0 {
		size = 4096
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](size, nil, defaultTTL)}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.lru.Add(key, value)
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}
