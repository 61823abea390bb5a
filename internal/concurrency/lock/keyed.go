// Package lock provides the per-key mutual-exclusion primitives the
// Orchestrator and Registry need: activation, deactivation, and
// migration on the same (moduleId, tenantId) pair are serialized,
// while different pairs proceed independently. Registry writes for
// the same moduleId are likewise serialized.
package lock

import (
	"context"
	"sync"

	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// PairLock is the shape the Orchestrator and Registry depend on:
// acquire key's critical section, get back a release func. KeyedMutex
// satisfies it for a single process; RedisPairLock satisfies it across
// a fleet of processes sharing one Redis instance.
type PairLock interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex hands out one exclusive critical section per string key,
// backed by a map of *sync.Mutex guarded by a master lock. It never
// grows unbounded in a single (moduleId, tenantId) tenant because keys
// are deleted once uncontended.
type KeyedMutex struct {
	mu sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu sync.Mutex
	refCount int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock blocks until key's critical section is free, or ctx is
// cancelled/expires. On success the returned release func must be
// called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (release func(), err error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refCount++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { k.unlock(key, e) }, nil
	case <-ctx.Done():
		// The goroutine above may still acquire e.mu later; release it
		// immediately once it does so the entry isn't left locked forever.
		go func() {
			<-acquired
			k.unlock(key, e)
		}()
		return nil, coreerrors.Timeout("acquiring lock for %q: %v", key, ctx.Err())
	}
}

func (k *KeyedMutex) unlock(key string, e *entry) {
	e.mu.Unlock()
	k.mu.Lock()
	e.refCount--
	if e.refCount == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// PairKey builds the canonical key for a (moduleId, tenantId)
// activation/deactivation/migration critical section.
func PairKey(moduleID, tenantID string) string {
	return moduleID + "::" + tenantID
}

// ModuleKey builds the canonical key for module-registry write
// serialization (registry writes for the same moduleId are serialized;
// reads are lock-free, so reads never call Lock).
func ModuleKey(moduleID string) string {
	return "module::" + moduleID
}
