package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/modulecore/lifecycle/internal/concurrency/lock"
	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// ConflictResolution tells Register how to handle a colliding
// registration.
type ConflictResolution string

const (
	ResolveManual ConflictResolution = "manual" // refuse
	ResolveOverride ConflictResolution = "override" // replace prior owner
	ResolveRename ConflictResolution = "rename" // caller has already renamed the colliding paths/ids
)

// ConflictError names the existing owner of a colliding id/path so the
// caller can resolve it.
type ConflictError struct {
	Kind string // "id", "route", "api", "component"
	Value string
	ExistingOwner string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q is already owned by module %q", e.Kind, e.Value, e.ExistingOwner)
}

// DiscoverySource pulls candidate module manifests from an external
// catalog. The transport is out of scope; the
// core only consumes whatever manifests it returns.
type DiscoverySource interface {
	Discover(ctx context.Context) ([]moduledef.Definition, error)
}

// Registry is the single source of truth for module definitions and
// integration-point ownership.
type Registry struct {
	persistence platform.Persistence
	events platform.EventSink
	clock platform.Clock
	logger *slog.Logger
	writeLock lock.PairLock

	mu sync.RWMutex
	entries map[string]*Entry
	byCapability map[string]map[string]bool // capability id -> set of module ids
	byStatus map[Status]map[string]bool
	pathOwner map[string]string // "route:/x" etc -> moduleId
	recentAccess *lru.Cache[string, int64]
}

// New constructs an empty Registry. writeLock serializes same-module
// writes; a nil writeLock falls back to an in-process lock.KeyedMutex,
// pass a lock.RedisPairLock to serialize writes across a fleet of
// processes sharing one registry's backing store.
func New(persistence platform.Persistence, events platform.EventSink, clock platform.Clock, logger *slog.Logger, writeLock lock.PairLock) *Registry {
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if writeLock == nil {
		writeLock = lock.NewKeyedMutex()
	}
	access, _ := lru.New[string, int64](4096)
	return &Registry{
		persistence: persistence,
		events: events,
		clock: clock,
		logger: logger,
		writeLock: writeLock,
		entries: make(map[string]*Entry),
		byCapability: make(map[string]map[string]bool),
		byStatus: make(map[Status]map[string]bool),
		pathOwner: make(map[string]string),
		recentAccess: access,
	}
}

// Register validates def's static contract, checks for conflicts, and
// on success stores the entry and rebuilds secondary indexes.
func (r *Registry) Register(ctx context.Context, def moduledef.Definition, source Source, resolution ConflictResolution) (*Entry, error) {
	if err := def.ValidateContract(); err != nil {
		return nil, coreerrors.Validation("%v", err)
	}

	release, err := r.writeLock.Lock(ctx, lock.ModuleKey(def.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if conflict := r.findConflictLocked(def); conflict != nil {
		switch resolution {
		case ResolveOverride:
			r.removeEntryLocked(conflict.ExistingOwner)
		case ResolveRename:
			return nil, coreerrors.Conflict("rename resolution requires a re-submitted definition with non-colliding paths: %v", conflict)
		default:
			return nil, conflict
		}
	}

	start := r.clock.Now()
	entry := &Entry{
		Definition: def,
		RegisteredAt: start,
		Source: source,
		Status: StatusRegistered,
		Integrations: def.IntegrationPoints(),
		Transitions: []Transition{{
			From: StatusUnregistered, To: StatusRegistered, Reason: "registered", Timestamp: start,
		}},
	}
	entry.Metrics.RegistrationDurationMs = r.clock.Now().Sub(start).Milliseconds()

	r.entries[def.ID] = entry
	r.indexLocked(entry)

	r.events.Emit(platform.Event{
		Kind: "registration", ModuleID: def.ID, Timestamp: r.clock.Now(),
		Payload: map[string]any{"source": source},
	})

	return entry, nil
}

// findConflictLocked returns a *ConflictError if def collides with an
// existing entry on id, route, api, or component, or nil if it's clear
// to register. Caller must hold r.mu.
func (r *Registry) findConflictLocked(def moduledef.Definition) *ConflictError {
	if existing, ok := r.entries[def.ID]; ok && existing.Status != StatusUnregistered {
		return &ConflictError{Kind: "id", Value: def.ID, ExistingOwner: existing.Definition.ID}
	}
	for _, ip := range def.IntegrationPoints() {
		key := pathKey(ip)
		if owner, ok := r.pathOwner[key]; ok && owner != def.ID {
			return &ConflictError{Kind: string(ip.Kind), Value: ip.ID, ExistingOwner: owner}
		}
	}
	return nil
}

func pathKey(ip moduledef.IntegrationPoint) string {
	return string(ip.Kind) + ":" + ip.ID
}

func (r *Registry) indexLocked(entry *Entry) {
	for _, cap := range entry.Definition.Capabilities {
		set, ok := r.byCapability[cap.ID]
		if !ok {
			set = make(map[string]bool)
			r.byCapability[cap.ID] = set
		}
		set[entry.Definition.ID] = true
	}
	set, ok := r.byStatus[entry.Status]
	if !ok {
		set = make(map[string]bool)
		r.byStatus[entry.Status] = set
	}
	set[entry.Definition.ID] = true

	for _, ip := range entry.Integrations {
		r.pathOwner[pathKey(ip)] = entry.Definition.ID
	}
}

func (r *Registry) deindexLocked(entry *Entry) {
	for _, cap := range entry.Definition.Capabilities {
		delete(r.byCapability[cap.ID], entry.Definition.ID)
	}
	delete(r.byStatus[entry.Status], entry.Definition.ID)
	for _, ip := range entry.Integrations {
		if r.pathOwner[pathKey(ip)] == entry.Definition.ID {
			delete(r.pathOwner, pathKey(ip))
		}
	}
}

func (r *Registry) removeEntryLocked(moduleID string) {
	if entry, ok := r.entries[moduleID]; ok {
		r.deindexLocked(entry)
		delete(r.entries, moduleID)
	}
}

// Unregister revokes every integration reservation owned by moduleID
// and removes it from the registry. It does not delete audit history
// and does not touch per-tenant activation records (the Registry does
// not know about tenants); the Orchestrator moves a record to error
// only when a later Activate no longer finds the module.
func (r *Registry) Unregister(ctx context.Context, moduleID string) error {
	release, err := r.writeLock.Lock(ctx, lock.ModuleKey(moduleID))
	if err != nil {
		return err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[moduleID]
	if !ok {
		return coreerrors.State("module %q is not registered", moduleID)
	}
	r.deindexLocked(entry)
	entry.Status = StatusUnregistered
	entry.Transitions = append(entry.Transitions, Transition{
		From: entry.Status, To: StatusUnregistered, Reason: "unregistered", Timestamp: r.clock.Now(),
	})
	delete(r.entries, moduleID)

	r.events.Emit(platform.Event{Kind: "unregistered", ModuleID: moduleID, Timestamp: r.clock.Now()})
	return nil
}

// Get returns the registry entry for moduleID, bumping its access
// counter. The lookup takes the RWMutex's read lock; the counter bump
// then takes its write lock.
func (r *Registry) Get(moduleID string) (*Entry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[moduleID]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		entry.Metrics.AccessCount++
		r.mu.Unlock()
	}
	return entry, ok
}

// ListByCapability returns every registered module declaring capId.
func (r *Registry) ListByCapability(capID string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for id := range r.byCapability[capID] {
		if e, ok := r.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// ListByStatus returns every registered module in the given status.
func (r *Registry) ListByStatus(status Status) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for id := range r.byStatus[status] {
		if e, ok := r.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// ListAll returns every currently registered entry. Used by the
// Activation Orchestrator to find modules that declare a dependency on
// a given moduleID; the registry
// keeps no reverse-dependency index since that check is rare compared
// to the capability/status/path lookups above.
func (r *Registry) ListAll() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Statistics summarizes the registry's current population.
type Statistics struct {
	Total int
	ByStatus map[Status]int
	ByCapability map[string]int
}

func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Statistics{Total: len(r.entries), ByStatus: map[Status]int{}, ByCapability: map[string]int{}}
	for status, set := range r.byStatus {
		stats.ByStatus[status] = len(set)
	}
	for cap, set := range r.byCapability {
		stats.ByCapability[cap] = len(set)
	}
	return stats
}

// Discover pulls candidate manifests from source and feeds each through
// Register as SourceAutomatic. Discovery never activates anything.
func (r *Registry) Discover(ctx context.Context, source DiscoverySource) ([]*Entry, []error) {
	defs, err := source.Discover(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("discovery source failed: %w", err)}
	}
	var entries []*Entry
	var errs []error
	for _, def := range defs {
		entry, err := r.Register(ctx, def, SourceAutomatic, ResolveManual)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, errs
}
