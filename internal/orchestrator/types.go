// Package orchestrator drives a module through its per-tenant
// lifecycle state machine, composing the Registry,
// Tenant Security, Tenant Configuration, Validator, Operation Engine,
// Migration Manager, and Rollback Engine behind two operations:
// Activate and Deactivate.
package orchestrator

import (
	"context"
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
)

// LifecycleState is a (moduleId, tenantId) pair's position in the
// activation state machine.
type LifecycleState string

const (
	StateUnregistered LifecycleState = "unregistered"
	StateRegistered LifecycleState = "registered"
	StateValidating LifecycleState = "validating"
	StateReady LifecycleState = "ready"
	StateActivating LifecycleState = "activating"
	StateActive LifecycleState = "active"
	StateError LifecycleState = "error"
	StateDeactivating LifecycleState = "deactivating"
	StateInactive LifecycleState = "inactive"
	StateRollbackRequired LifecycleState = "rollback_required"
)

// Transition records one state change for a (moduleId, tenantId) pair.
type Transition struct {
	From LifecycleState
	To LifecycleState
	Reason string
	Timestamp time.Time
}

// Record is the per-(moduleId, tenantId) activation record.
type Record struct {
	ModuleID string
	TenantID string
	State LifecycleState
	Transitions []Transition
	LastError string
	UpdatedAt time.Time
}

// StepExecutor interprets a module-declared operation (migration step
// or custom activation/deactivation operation). The core never
// executes module business logic itself; this
// is the seam where the host binds that logic in.
type StepExecutor interface {
	Execute(ctx context.Context, op moduledef.Operation) (any, error)
}

// ActivationOptions carries request metadata for Activate. The config
// overlay is Activate's own overlay argument; Activate does not read
// the Config or AutomaticRollback fields.
type ActivationOptions struct {
	Config map[string]any
	ActorID string
	// CallerTenantID is the tenant the requesting context is scoped to.
	// Defaults to the target tenantID when empty, i.e. a same-tenant
	// call that never triggers the cross-tenant check.
	CallerTenantID string
	SessionID string
	Source string
	AutomaticRollback bool
}

// ActivationResult is Activate's outcome.
type ActivationResult struct {
	Record Record
	Warnings []string
	Err error
}

// DeactivationOptions carries request metadata for Deactivate.
type DeactivationOptions struct {
	ActorID string
	CallerTenantID string
	SessionID string
	Source string
}

// DeactivationResult is Deactivate's outcome.
type DeactivationResult struct {
	Record Record
	Err error
}
