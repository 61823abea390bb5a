package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a Redis-backed lock for deployments running more
// than one core process against the same tenants. A single-node
// deployment can use KeyedMutex instead. DistributedLock itself exposes
// Acquire/Release; RedisPairLock (below) adapts it to the PairLock shape
// KeyedMutex satisfies, so the Orchestrator doesn't need to know which
// one it was handed.
type DistributedLock struct {
	client   *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// DistributedLockConfig configures retry/TTL behavior for Redis locks.
type DistributedLockConfig struct {
	TTL            time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	ValuePrefix    string
}

func DefaultDistributedLockConfig() DistributedLockConfig {
	return DistributedLockConfig{
		TTL:           30 * time.Second,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		ValuePrefix:   "lifecycle-lock",
	}
}

// NewDistributedLock constructs a lock for key. The lock is not held
// until Acquire succeeds.
func NewDistributedLock(client *redis.Client, key string, cfg DistributedLockConfig, logger *slog.Logger) *DistributedLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &DistributedLock{
		client: client,
		key:    key,
		value:  generateLockValue(cfg.ValuePrefix),
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// Acquire attempts to take the lock up to MaxRetries+1 times, waiting a
// fixed RetryInterval between attempts and honoring ctx cancellation
// while it waits.
func (l *DistributedLock) Acquire(ctx context.Context, cfg DistributedLockConfig) (bool, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			if attempt == maxRetries {
				return false, fmt.Errorf("acquire lock %q after %d attempts: %w", l.key, maxRetries+1, err)
			}
		} else if ok {
			l.acquired = true
			l.logger.Debug("lock acquired", "key", l.key, "ttl", l.ttl)
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	return false, nil
}

// releaseScript only deletes the key when it still holds this lock's
// value, so one holder can never release a lock acquired by another
// after its own TTL already expired.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release drops the lock if still held by this instance.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	l.acquired = false
	if n, _ := res.(int64); n != 1 {
		l.logger.Warn("lock was not held at release time", "key", l.key)
	}
	return nil
}

// IsAcquired reports whether this instance currently believes it holds
// the lock (best-effort; the TTL may already have expired remotely).
func (l *DistributedLock) IsAcquired() bool { return l.acquired }

// RedisPairLock adapts DistributedLock to the PairLock shape, so the
// Orchestrator and Registry can serialize critical sections across a
// fleet of processes instead of just within one, with no change to
// either collaborator beyond which lock they were constructed with.
type RedisPairLock struct {
	client *redis.Client
	cfg    DistributedLockConfig
	logger *slog.Logger
}

// NewRedisPairLock wires a RedisPairLock. A zero-value cfg falls back
// to DefaultDistributedLockConfig.
func NewRedisPairLock(client *redis.Client, cfg DistributedLockConfig, logger *slog.Logger) *RedisPairLock {
	if cfg == (DistributedLockConfig{}) {
		cfg = DefaultDistributedLockConfig()
	}
	return &RedisPairLock{client: client, cfg: cfg, logger: logger}
}

// Lock acquires key's distributed lock, retrying per the configured
// policy, and returns a release func that drops it.
func (r *RedisPairLock) Lock(ctx context.Context, key string) (func(), error) {
	dl := NewDistributedLock(r.client, key, r.cfg, r.logger)
	ok, err := dl.Acquire(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire distributed lock %q: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire distributed lock %q: retries exhausted", key)
	}
	return func() { _ = dl.Release(ctx) }, nil
}
