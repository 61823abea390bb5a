// Package rollback composes and executes compensating plans that
// return a module/tenant pair to an equivalent of its pre-forward
// state after a failed activation or migration.
package rollback

import (
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// Step is one compensating action in a rollback plan, pairing the
// forward operation it undoes with its declared reverse and retry
// policy.
type Step struct {
	ForOperationID string
	Reverse moduledef.Operation
	Critical bool
	Timeout time.Duration
	Retry RetryPolicy
}

// RetryPolicy controls per-step retry behavior. Retries happen inside
// the step's own Timeout budget, not in addition to it.
type RetryPolicy struct {
	MaxAttempts int
	InitialDelay time.Duration
	Multiplier float64
	MaxDelay time.Duration
	RetryOnKinds []coreerrors.Kind // empty means "retry any kind"
	DontRetryOnKinds []coreerrors.Kind
}

func (p RetryPolicy) allows(err error) bool {
	if len(p.DontRetryOnKinds) > 0 {
		for _, k := range p.DontRetryOnKinds {
			if coreerrors.As(err, k) {
				return false
			}
		}
	}
	if len(p.RetryOnKinds) == 0 {
		return true
	}
	for _, k := range p.RetryOnKinds {
		if coreerrors.As(err, k) {
			return true
		}
	}
	return false
}

// SafetyCheck is a declared gate evaluated before any step executes.
type SafetyCheck struct {
	ID string
	Critical bool
	Check func() error
}

// Plan is the topologically-reverse ordering of completed forward
// steps mapped to their declared reverse operations.
type Plan struct {
	ModuleID string
	ScopeKey string
	Steps []Step

	// PartialRollbackPossible is false when one or more completed
	// forward operations had no declared reverse; MissingReverses
	// names them so the caller can choose strict-abort or best-effort.
	PartialRollbackPossible bool
	MissingReverses []string
}

// BuildPlan maps completedForwardOps (in the order they were executed)
// onto declared, keyed by ForOperationID, producing the topologically
// reverse step order. Operations without a declared reverse are
// recorded in Plan.MissingReverses rather than silently dropped.
func BuildPlan(moduleID, scopeKey string, completedForwardOps []moduledef.Operation, declared []moduledef.RollbackOperation) Plan {
	byForward := make(map[string]moduledef.RollbackOperation, len(declared))
	for _, d := range declared {
		byForward[d.ForOperationID] = d
	}

	plan := Plan{ModuleID: moduleID, ScopeKey: scopeKey, PartialRollbackPossible: true}
	for i := len(completedForwardOps) - 1; i >= 0; i-- {
		op := completedForwardOps[i]
		d, ok := byForward[op.ID]
		if !ok {
			plan.MissingReverses = append(plan.MissingReverses, op.ID)
			plan.PartialRollbackPossible = false
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			ForOperationID: d.ForOperationID,
			Reverse: d.Reverse,
			Critical: d.Critical,
			Timeout: time.Duration(d.TimeoutMs) * time.Millisecond,
			Retry: RetryPolicy{
				MaxAttempts: d.RetryMaxAttempts,
				InitialDelay: time.Duration(d.RetryInitialDelayMs) * time.Millisecond,
				Multiplier: d.RetryMultiplier,
				MaxDelay: time.Duration(d.RetryMaxDelayMs) * time.Millisecond,
			},
		})
	}
	return plan
}

// Outcome reports what happened when a Plan was executed.
type Outcome struct {
	Success bool
	CompletedSteps []string
	FailedStep string
	Cause error
}
