// Package memory is an in-process implementation of platform.Persistence,
// used by tests and by a single-node deployment that doesn't need a
// durable backing store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/modulecore/lifecycle/internal/platform"
)

type namespaceData struct {
	kv map[string][]byte
	log [][]byte
}

// Store guards every namespace behind one mutex. Txn is simulated by
// snapshotting affected namespaces before block runs and restoring
// them if block returns an error.
type Store struct {
	mu sync.Mutex
	namespaces map[string]*namespaceData
}

func New() *Store {
	return &Store{namespaces: make(map[string]*namespaceData)}
}

func (s *Store) nsLocked(namespace string) *namespaceData {
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = &namespaceData{kv: make(map[string][]byte)}
		s.namespaces[namespace] = ns
	}
	return ns
}

func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nsLocked(namespace)
	value, ok := ns.kv[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nsLocked(namespace)
	stored := make([]byte, len(value))
	copy(stored, value)
	ns.kv[key] = stored
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nsLocked(namespace).kv, key)
	return nil
}

type snapshotIterator struct {
	entries []platform.Entry
	pos int
}

func (it *snapshotIterator) Next(ctx context.Context) (platform.Entry, bool, error) {
	if it.pos >= len(it.entries) {
		return platform.Entry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true, nil
}

func (it *snapshotIterator) Close() error { return nil }

func (s *Store) List(ctx context.Context, namespace, prefix string) (platform.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nsLocked(namespace)
	var keys []string
	for k := range ns.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]platform.Entry, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(ns.kv[k]))
		copy(v, ns.kv[k])
		entries = append(entries, platform.Entry{Key: k, Value: v})
	}
	return &snapshotIterator{entries: entries}, nil
}

func (s *Store) AppendLog(ctx context.Context, namespace string, entry []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nsLocked(namespace)
	stored := make([]byte, len(entry))
	copy(stored, entry)
	ns.log = append(ns.log, stored)
	return nil
}

func cloneNamespace(ns *namespaceData) *namespaceData {
	clone := &namespaceData{kv: make(map[string][]byte, len(ns.kv)), log: make([][]byte, len(ns.log))}
	for k, v := range ns.kv {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.kv[k] = cp
	}
	copy(clone.log, ns.log)
	return clone
}

// Txn snapshots every namespace that currently exists, runs block, and
// restores the pre-call snapshot if block returns an error. New
// namespaces block creates are dropped on rollback too.
func (s *Store) Txn(ctx context.Context, block func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := make(map[string]*namespaceData, len(s.namespaces))
	for name, ns := range s.namespaces {
		snapshot[name] = cloneNamespace(ns)
	}
	s.mu.Unlock()

	if err := block(ctx); err != nil {
		s.mu.Lock()
		s.namespaces = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}
