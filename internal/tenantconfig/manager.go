package tenantconfig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// Codec converts a values map to and from one export/import wire
// format. JSON is the baseline; other formats register alongside it.
type Codec interface {
	Encode(values map[string]any) ([]byte, error)
	Decode(raw []byte) (map[string]any, error)
}

type moduleSetup struct {
	schema Schema
	sanitize []SanitizeRule
	inheritance InheritancePolicy
}

// Manager is the per-tenant, per-module configuration store.
type Manager struct {
	persistence platform.Persistence
	resolver ParentResolver
	clock platform.Clock
	events platform.EventSink
	logger *slog.Logger
	cipher *FieldCipher
	codecs map[string]Codec
	maxHistory int

	mu sync.RWMutex
	modules map[string]moduleSetup
}

// New wires a Manager. maxHistoryPerTenant bounds how many versions
// History returns per tenant/module, oldest trimmed first; 0 or less
// falls back to 100.
func New(persistence platform.Persistence, resolver ParentResolver, clock platform.Clock, events platform.EventSink, logger *slog.Logger, cipher *FieldCipher, maxHistoryPerTenant int) *Manager {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistoryPerTenant <= 0 {
		maxHistoryPerTenant = 100
	}
	m := &Manager{
		persistence: persistence, resolver: resolver, clock: clock, events: events, logger: logger, cipher: cipher,
		codecs: map[string]Codec{"json": jsonCodec{}},
		modules: make(map[string]moduleSetup),
		maxHistory: maxHistoryPerTenant,
	}
	m.codecs["yaml"] = yamlCodec{}
	return m
}

// RegisterModule declares a module's schema, sanitize pipeline, and
// inheritance policy. Must be called before Get/Set/Update for that
// module.
func (m *Manager) RegisterModule(moduleID string, schema Schema, sanitize []SanitizeRule, policy InheritancePolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[moduleID] = moduleSetup{schema: schema, sanitize: sanitize, inheritance: policy}
}

func (m *Manager) setupFor(moduleID string) (moduleSetup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.modules[moduleID]
	if !ok {
		return moduleSetup{}, coreerrors.ConfigNotFound("module %q has no registered configuration schema", moduleID)
	}
	return s, nil
}

func scopeKey(tenantID, moduleID string) string { return tenantID + "/" + moduleID }

func (m *Manager) loadRaw(ctx context.Context, tenantID, moduleID string) (map[string]any, error) {
	raw, ok, err := m.persistence.Get(ctx, platform.NamespaceConfig, scopeKey(tenantID, moduleID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{}, nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode stored configuration: %w", err)
	}
	return values, nil
}

// GetAll returns the effective (inheritance-resolved) configuration
// for tenantID/moduleID.
func (m *Manager) GetAll(ctx context.Context, tenantID, moduleID string) (map[string]any, error) {
	setup, err := m.setupFor(moduleID)
	if err != nil {
		return nil, err
	}
	own, err := m.loadRaw(ctx, tenantID, moduleID)
	if err != nil {
		return nil, err
	}
	own = Decrypt(setup.sanitize, own, m.cipher)
	return Resolve(setup.inheritance, m.resolver, moduleID, setup.schema, own)
}

// Get returns one key's effective value, or def if absent.
func (m *Manager) Get(ctx context.Context, tenantID, moduleID, key string, def any) (any, error) {
	all, err := m.GetAll(ctx, tenantID, moduleID)
	if err != nil {
		return nil, err
	}
	if v, ok := all[key]; ok {
		return v, nil
	}
	return def, nil
}

// Set stores a single key via Update.
func (m *Manager) Set(ctx context.Context, tenantID, moduleID, key string, value any, source string) error {
	return m.Update(ctx, tenantID, moduleID, map[string]any{key: value}, source)
}

// Delete removes a key by emitting a new version without it.
func (m *Manager) Delete(ctx context.Context, tenantID, moduleID, key, source string) error {
	own, err := m.loadRaw(ctx, tenantID, moduleID)
	if err != nil {
		return err
	}
	if _, ok := own[key]; !ok {
		return nil
	}
	next := cloneMap(own)
	delete(next, key)
	return m.commit(ctx, tenantID, moduleID, next, source)
}

// Update atomically applies the supplied keys: validation, sanitization,
// and persistence all succeed together or none of them take effect.
func (m *Manager) Update(ctx context.Context, tenantID, moduleID string, updates map[string]any, source string) error {
	setup, err := m.setupFor(moduleID)
	if err != nil {
		return err
	}
	own, err := m.loadRaw(ctx, tenantID, moduleID)
	if err != nil {
		return err
	}
	own = Decrypt(setup.sanitize, own, m.cipher)

	candidate := cloneMap(own)
	for k, v := range updates {
		candidate[k] = v
	}

	if setup.inheritance.Strategy == InheritStrict {
		return coreerrors.PermissionDenied("tenant %q: configuration for module %q is strict-inherited, writes are rejected", tenantID, moduleID)
	}

	if errs := Validate(setup.schema, candidate); len(errs) > 0 {
		return coreerrors.ConfigValidation("tenant %q module %q: %d validation error(s): %v", tenantID, moduleID, len(errs), errs)
	}

	sanitized := Sanitize(setup.sanitize, candidate, m.cipher)
	return m.commit(ctx, tenantID, moduleID, sanitized, source)
}

// Validate checks a candidate update against the module's schema
// without persisting it.
func (m *Manager) Validate(ctx context.Context, moduleID string, candidate map[string]any) ([]ValidationError, error) {
	setup, err := m.setupFor(moduleID)
	if err != nil {
		return nil, err
	}
	return Validate(setup.schema, candidate), nil
}

func (m *Manager) commit(ctx context.Context, tenantID, moduleID string, values map[string]any, source string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	return m.persistence.Txn(ctx, func(ctx context.Context) error {
		prev, err := m.latestVersion(ctx, tenantID, moduleID)
		if err != nil {
			return err
		}
		version := Version{
			ID: fmt.Sprintf("%s-%d", scopeKey(tenantID, moduleID), m.clock.Now().UnixNano()),
			Number: prev.Number + 1,
			Checksum: checksum(raw),
			Timestamp: m.clock.Now(),
			Values: values,
			Source: source,
		}
		if prev.ID != "" {
			version.PreviousVersionID = prev.ID
		}
		versionRaw, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		if err := m.persistence.AppendLog(ctx, platform.NamespaceConfigHistory, versionRaw); err != nil {
			return err
		}
		if err := m.persistence.Put(ctx, platform.NamespaceConfig, scopeKey(tenantID, moduleID), raw); err != nil {
			return err
		}
		m.events.Emit(platform.Event{Kind: platform.EventConfigChanged, ModuleID: moduleID, TenantID: tenantID, Timestamp: m.clock.Now(),
			Payload: map[string]any{"version": version.Number, "source": source}})
		return nil
	})
}

func checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// History returns tenantID/moduleID's most recent versions, oldest
// first, capped at maxHistory. Scanning the append-log namespace and
// filtering by scope key is the cost of this package's layering on a
// generic Persistence collaborator with no dedicated history table.
func (m *Manager) History(ctx context.Context, tenantID, moduleID string) ([]Version, error) {
	iter, err := m.persistence.List(ctx, platform.NamespaceConfigHistory, scopeKey(tenantID, moduleID))
	if err != nil {
		return nil, err
	}
	if iter == nil {
		return nil, nil
	}
	defer iter.Close()

	var out []Version
	for {
		entry, ok, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var v Version
		if err := json.Unmarshal(entry.Value, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) > m.maxHistory {
		out = out[len(out)-m.maxHistory:]
	}
	return out, nil
}

func (m *Manager) latestVersion(ctx context.Context, tenantID, moduleID string) (Version, error) {
	versions, err := m.History(ctx, tenantID, moduleID)
	if err != nil {
		return Version{}, err
	}
	if len(versions) == 0 {
		return Version{}, nil
	}
	return versions[len(versions)-1], nil
}

// Rollback restores versionID's payload by emitting a new forward
// version equal to it; history itself is never rewritten.
func (m *Manager) Rollback(ctx context.Context, tenantID, moduleID, versionID, source string) error {
	versions, err := m.History(ctx, tenantID, moduleID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.ID == versionID {
			return m.commit(ctx, tenantID, moduleID, cloneMap(v.Values), source)
		}
	}
	return coreerrors.ConfigNotFound("version %q not found for tenant %q module %q", versionID, tenantID, moduleID)
}

// ExportConfig serializes the effective configuration, with sensitive
// fields redacted, through the named format codec.
func (m *Manager) ExportConfig(ctx context.Context, tenantID, moduleID, format string) ([]byte, error) {
	setup, err := m.setupFor(moduleID)
	if err != nil {
		return nil, err
	}
	codec, ok := m.codecs[format]
	if !ok {
		return nil, coreerrors.Validation("unsupported configuration export format %q", format)
	}
	values, err := m.GetAll(ctx, tenantID, moduleID)
	if err != nil {
		return nil, err
	}
	return codec.Encode(RedactSensitive(setup.schema, values))
}

// ImportConfig decodes data and runs it through the full
// validate+sanitize pipeline; any error rejects the entire import
// atomically.
func (m *Manager) ImportConfig(ctx context.Context, tenantID, moduleID string, data []byte, format, source string) error {
	codec, ok := m.codecs[format]
	if !ok {
		return coreerrors.Validation("unsupported configuration import format %q", format)
	}
	values, err := codec.Decode(data)
	if err != nil {
		return coreerrors.Validation("failed to decode %s import payload: %v", format, err)
	}
	setup, err := m.setupFor(moduleID)
	if err != nil {
		return err
	}
	if errs := Validate(setup.schema, values); len(errs) > 0 {
		return coreerrors.ConfigValidation("tenant %q module %q: import payload has %d validation error(s): %v", tenantID, moduleID, len(errs), errs)
	}
	return m.Update(ctx, tenantID, moduleID, values, source)
}
