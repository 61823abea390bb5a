package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/opengine"
	"github.com/modulecore/lifecycle/internal/platform"
)

type memPersistence struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string][]byte)}
}

func (m *memPersistence) k(ns, key string) string { return ns + "\x00" + key }

func (m *memPersistence) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[m.k(ns, key)]
	return v, ok, nil
}

func (m *memPersistence) Put(ctx context.Context, ns, key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.k(ns, key)] = v
	return nil
}

func (m *memPersistence) Delete(ctx context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.k(ns, key))
	return nil
}

func (m *memPersistence) List(ctx context.Context, ns, prefix string) (platform.Iterator, error) {
	return nil, nil
}

func (m *memPersistence) AppendLog(ctx context.Context, ns string, entry []byte) error { return nil }

func (m *memPersistence) Txn(ctx context.Context, block func(ctx context.Context) error) error {
	return block(ctx)
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *recordingExecutor) Execute(ctx context.Context, op moduledef.Operation) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op.ID)
	if r.fail[op.ID] {
		return nil, errors.New("boom")
	}
	return map[string]any{"ok": true}, nil
}

func addColumnMigration(id string) moduledef.MigrationDef {
	return moduledef.MigrationDef{
		ID:      id,
		Version: "1.0.0",
		Forward: []moduledef.Operation{
			{ID: "add_col_a", Kind: moduledef.OpAddColumn, Critical: true},
			{ID: "add_col_b", Kind: moduledef.OpAddColumn, Critical: true},
		},
	}
}

func newTestManager(p platform.Persistence) *Manager {
	store := opengine.NewStateStore(p, 10)
	engine := opengine.New(store, nil, time.Minute, nil)
	return New(engine, p, nil, nil, nil, nil, nil)
}

func TestRun_CompletesAllForwardOperations(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{}}

	res := m.Run(context.Background(), "mod1", addColumnMigration("mig1"), Scope{Kind: ScopeTenant, ID: "acme"}, exec, nil, false)
	if res.State != RecordCompleted {
		t.Fatalf("expected RecordCompleted, got %v (err=%v)", res.State, res.Err)
	}
	if len(res.CompletedOps) != 2 {
		t.Fatalf("expected 2 completed ops, got %v", res.CompletedOps)
	}
}

func TestRun_RerunIsNoOp(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{}}
	def := addColumnMigration("mig1")
	scope := Scope{Kind: ScopeTenant, ID: "acme"}

	first := m.Run(context.Background(), "mod1", def, scope, exec, nil, false)
	if first.State != RecordCompleted {
		t.Fatalf("first run failed: %+v", first)
	}
	callsAfterFirst := len(exec.calls)

	second := m.Run(context.Background(), "mod1", def, scope, exec, nil, false)
	if second.State != RecordCompleted {
		t.Fatalf("second run should be a no-op completion: %+v", second)
	}
	if len(exec.calls) != callsAfterFirst {
		t.Fatalf("expected no additional executor calls on rerun, had %d now %d", callsAfterFirst, len(exec.calls))
	}
}

func TestRun_RejectsDestructiveForwardOperation(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{}}
	def := moduledef.MigrationDef{
		ID:      "mig_bad",
		Version: "1.0.0",
		Forward: []moduledef.Operation{{ID: "drop_col", Kind: moduledef.OpDropColumn, Critical: true}},
	}

	res := m.Run(context.Background(), "mod1", def, Scope{Kind: ScopeTenant, ID: "acme"}, exec, nil, false)
	if res.Err == nil {
		t.Fatal("expected rejection of destructive forward operation")
	}
	if len(exec.calls) != 0 {
		t.Fatalf("executor should never run for a rejected migration, ran %v", exec.calls)
	}
}

func TestRun_CriticalFailureAborts(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{"add_col_a": true}}

	res := m.Run(context.Background(), "mod1", addColumnMigration("mig1"), Scope{Kind: ScopeTenant, ID: "acme"}, exec, nil, false)
	if res.State != RecordFailed {
		t.Fatalf("expected RecordFailed, got %v", res.State)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected abort after first critical failure, calls=%v", exec.calls)
	}
}

func TestRun_RequiredDependencyNotCompletedBlocks(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{}}
	def := addColumnMigration("mig2")
	def.Dependencies = []moduledef.MigrationDependency{{MigrationID: "mig1", Kind: moduledef.DependencyRequired}}

	res := m.Run(context.Background(), "mod1", def, Scope{Kind: ScopeTenant, ID: "acme"}, exec, nil, false)
	if res.Err == nil {
		t.Fatal("expected dependency error since mig1 never ran")
	}
	if len(exec.calls) != 0 {
		t.Fatalf("executor should not run with unmet dependency, ran %v", exec.calls)
	}
}

func TestRun_DependencyCompletedUnblocksMigration(t *testing.T) {
	p := newMemPersistence()
	m := newTestManager(p)
	exec := &recordingExecutor{fail: map[string]bool{}}
	scope := Scope{Kind: ScopeTenant, ID: "acme"}

	first := m.Run(context.Background(), "mod1", addColumnMigration("mig1"), scope, exec, nil, false)
	if first.State != RecordCompleted {
		t.Fatalf("mig1 should complete: %+v", first)
	}

	def := addColumnMigration("mig2")
	def.Dependencies = []moduledef.MigrationDependency{{MigrationID: "mig1", Kind: moduledef.DependencyRequired}}
	second := m.Run(context.Background(), "mod1", def, scope, exec, nil, false)
	if second.State != RecordCompleted {
		t.Fatalf("mig2 should complete once mig1 is done: %+v", second)
	}
}
