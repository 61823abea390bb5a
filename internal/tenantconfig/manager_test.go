package tenantconfig

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/modulecore/lifecycle/internal/platform"
)

// memPersistence is a minimal in-memory platform.Persistence double
// that supports List-by-prefix over an append log, ordered by
// insertion, since History() depends on it.
type memPersistence struct {
	mu   sync.Mutex
	data map[string][]byte
	logs map[string][]platform.Entry
	seq  int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string][]byte), logs: make(map[string][]platform.Entry)}
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []platform.Entry
	for _, e := range m.logs[ns] {
		if strings.HasPrefix(e.Key, prefix) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })
	return &sliceIterator{entries: matched}, nil
}

func (m *memPersistence) AppendLog(ctx context.Context, ns string, entry []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	// Entries are keyed by a monotonic sequence prefixed with the
	// caller-chosen scope so List(ns, scopeKey) finds only its own
	// versions, ordered by insertion.
	key := versionScopeFromPayload(entry)
	m.logs[ns] = append(m.logs[ns], platform.Entry{Key: key, Value: entry})
	return nil
}

func (m *memPersistence) Txn(ctx context.Context, block func(ctx context.Context) error) error {
	return block(ctx)
}

type sliceIterator struct {
	entries []platform.Entry
	pos     int
}

func (it *sliceIterator) Next(ctx context.Context) (platform.Entry, bool, error) {
	if it.pos >= len(it.entries) {
		return platform.Entry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// versionScopeFromPayload extracts the "id" field's scope prefix from
// an encoded Version so the fake can key its log entries the same way
// Manager.History filters by scope (tenantId/moduleId).
func versionScopeFromPayload(raw []byte) string {
	s := string(raw)
	const marker = `"id":"`
	i := strings.Index(s, marker)
	if i < 0 {
		return ""
	}
	rest := s[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

func testSchema() Schema {
	return Schema{
		"retention_days": {Key: "retention_days", Type: TypeNumber, Required: true},
		"api_key":        {Key: "api_key", Type: TypeString, Sensitive: true},
		"label":          {Key: "label", Type: TypeString},
	}
}

func newTestManager() *Manager {
	m := New(newMemPersistence(), nil, nil, nil, nil, NewFieldCipher("test-secret"), 0)
	m.RegisterModule("mod1", testSchema(), nil, InheritancePolicy{Strategy: InheritIsolated})
	return m
}

func TestUpdate_EncryptedFieldRoundTripsPlaintextThroughGetAll(t *testing.T) {
	m := New(newMemPersistence(), nil, nil, nil, nil, NewFieldCipher("test-secret"), 0)
	m.RegisterModule("mod1", testSchema(), []SanitizeRule{{Field: "api_key", Kind: SanitizeEncrypt}}, InheritancePolicy{Strategy: InheritIsolated})
	ctx := context.Background()

	err := m.Update(ctx, "acme", "mod1", map[string]any{
		"retention_days": float64(30),
		"api_key":        "super-secret-token",
	}, "init")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	values, err := m.GetAll(ctx, "acme", "mod1")
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if values["api_key"] != "super-secret-token" {
		t.Fatalf("expected GetAll to return decrypted api_key, got %v", values["api_key"])
	}

	own, err := m.loadRaw(ctx, "acme", "mod1")
	if err != nil {
		t.Fatalf("load raw failed: %v", err)
	}
	if own["api_key"] == "super-secret-token" {
		t.Fatal("expected stored value to be ciphertext, not plaintext")
	}

	// A second update to an unrelated field must not re-encrypt the
	// already-ciphertext stored value into double-ciphertext.
	if err := m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(45)}, "bump"); err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	values, err = m.GetAll(ctx, "acme", "mod1")
	if err != nil {
		t.Fatalf("get all after second update failed: %v", err)
	}
	if values["api_key"] != "super-secret-token" {
		t.Fatalf("expected api_key to survive an unrelated update, got %v", values["api_key"])
	}
}

func TestUpdate_ValidAndRejectsMissingRequired(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.Update(ctx, "acme", "mod1", map[string]any{"label": "prod"}, "test"); err == nil {
		t.Fatal("expected validation error for missing required retention_days")
	}

	if err := m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(30), "label": "prod"}, "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values, err := m.GetAll(ctx, "acme", "mod1")
	if err != nil {
		t.Fatalf("getAll failed: %v", err)
	}
	if values["label"] != "prod" {
		t.Fatalf("expected label=prod, got %v", values["label"])
	}
}

func TestUpdate_VersionChainGrowsMonotonically(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(30)}, "init"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if err := m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(60)}, "bump"); err != nil {
		t.Fatalf("second update failed: %v", err)
	}

	history, err := m.History(ctx, "acme", "mod1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if history[0].Number != 1 || history[1].Number != 2 {
		t.Fatalf("expected monotonic version numbers 1,2; got %d,%d", history[0].Number, history[1].Number)
	}
	if history[1].PreviousVersionID != history[0].ID {
		t.Fatalf("expected version 2 to chain to version 1's id")
	}
}

func TestRollback_RestoresHistoricalValueAsNewVersion(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_ = m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(30)}, "init")
	_ = m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(999)}, "oops")

	history, _ := m.History(ctx, "acme", "mod1")
	firstVersionID := history[0].ID

	if err := m.Rollback(ctx, "acme", "mod1", firstVersionID, "operator"); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	values, _ := m.GetAll(ctx, "acme", "mod1")
	if values["retention_days"] != float64(30) {
		t.Fatalf("expected rollback to restore retention_days=30, got %v", values["retention_days"])
	}

	history, _ = m.History(ctx, "acme", "mod1")
	if len(history) != 3 {
		t.Fatalf("rollback should append a new version, not rewrite history; got %d versions", len(history))
	}
}

func TestExportConfig_RedactsSensitiveFields(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_ = m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(30), "api_key": "secret-value"}, "init")

	raw, err := m.ExportConfig(ctx, "acme", "mod1", "json")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if strings.Contains(string(raw), "secret-value") {
		t.Fatal("expected api_key to be redacted in export")
	}
}

func TestImportConfig_AtomicRejectsInvalidPayload(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_ = m.Update(ctx, "acme", "mod1", map[string]any{"retention_days": float64(30)}, "init")

	bad := []byte(`{"label": "prod"}`) // missing required retention_days
	if err := m.ImportConfig(ctx, "acme", "mod1", bad, "json", "import"); err == nil {
		t.Fatal("expected import to reject payload missing required field")
	}

	values, _ := m.GetAll(ctx, "acme", "mod1")
	if values["retention_days"] != float64(30) {
		t.Fatal("expected original configuration untouched after rejected import")
	}
}

func TestStrictInheritance_RejectsWrites(t *testing.T) {
	m := New(newMemPersistence(), nil, nil, nil, nil, nil, 0)
	m.RegisterModule("mod1", testSchema(), nil, InheritancePolicy{Strategy: InheritStrict})

	err := m.Update(context.Background(), "acme", "mod1", map[string]any{"retention_days": float64(1)}, "test")
	if err == nil {
		t.Fatal("expected strict inheritance to reject tenant writes")
	}
}
