// Package migration implements ordered, dependency-aware, additive-only
// data/schema transformations associated with a module's activation.
package migration

import "time"

// ScopeKind is the granularity a migration's completion is tracked at.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeTenant ScopeKind = "tenant"
	ScopeModule ScopeKind = "module"
)

// Scope names the target a migration version is tracked against.
type Scope struct {
	Kind ScopeKind
	ID string
}

// Key returns the persistence-key fragment for this scope.
func (s Scope) Key() string {
	return string(s.Kind) + ":" + s.ID
}

// RecordState is a migration's completion state for one scope.
type RecordState string

const (
	RecordNotExecuted RecordState = "not_executed"
	RecordInProgress RecordState = "in_progress"
	RecordCompleted RecordState = "completed"
	RecordFailed RecordState = "failed"
	RecordRolledBack RecordState = "rolled_back"
)

// Record is the persisted completion marker for (migrationID, scope).
type Record struct {
	MigrationID string
	ModuleID string
	ScopeKey string
	Version string
	State RecordState
	CompletedAt time.Time
}

// Result is what Manager.Run returns.
type Result struct {
	MigrationID string
	State RecordState
	Warnings []string
	CompletedOps []string // forward operation ids that ran successfully
	RollbackOutcome *RollbackSummary
	Err error
}

// RollbackSummary mirrors rollback.Outcome without importing the
// rollback package's Plan-construction machinery into this file; the
// Manager fills this in only when automaticRollback was requested and
// an abort occurred.
type RollbackSummary struct {
	Attempted bool
	Success bool
	Cause error
}
