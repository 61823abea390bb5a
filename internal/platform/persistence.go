package platform

import "context"

// Namespaces used by the core's Persistence collaborator. Concrete
// adapters (postgres, sqlite, memory) map these to tables/prefixes
// however suits their storage engine.
const (
	NamespaceRegistry = "registry"
	NamespaceActivation = "activation"
	NamespaceConfig = "config"
	NamespaceConfigHistory = "config_history"
	NamespaceOperationState = "operation_state"
	NamespaceMigrationState = "migration_state"
	NamespaceValidatorHistory = "validator_history"
	NamespaceAudit = "audit"
)

// Entry is a single (key, value) pair returned while listing a
// namespace by prefix.
type Entry struct {
	Key string
	Value []byte
}

// Iterator walks entries lazily; callers must call Close when done
// regardless of how far they iterated.
type Iterator interface {
	Next(ctx context.Context) (Entry, bool, error)
	Close() error
}

// Persistence is the opaque collaborator offering key/value and
// append-log calls. The core never assumes a specific storage engine;
// postgres, sqlite, and an in-memory map all satisfy this interface
// identically from the core's point of view.
type Persistence interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace, prefix string) (Iterator, error)
	AppendLog(ctx context.Context, namespace string, entry []byte) error

	// Txn runs block with an atomic per-namespace view when the
	// underlying store supports real transactions. Implementations
	// that cannot offer true atomicity simulate it via snapshot and
	// restore.
	Txn(ctx context.Context, block func(ctx context.Context) error) error
}
