package orchestrator

import (
	"context"
	"fmt"

	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/platform"
)

// defaultExecutor is the orchestrator's built-in StepExecutor, used
// whenever the host process does not bind a domain-specific
// interpreter. It never mutates a module's actual business data — the
// core does not execute module business logic — it only
// records that the declared operation ran, which is enough to drive
// the state machine and idempotent short-circuiting in tests and for
// modules whose operations are pure bookkeeping (e.g. reserving an
// integration point, recording a capability flag).
type defaultExecutor struct {
	persistence platform.Persistence
	clock platform.Clock
}

// NewDefaultExecutor builds the same built-in StepExecutor New falls
// back to internally, so callers that need to pass one explicitly
// (e.g. to share it with the Rollback Engine) don't have to write
// their own.
func NewDefaultExecutor(persistence platform.Persistence, clock platform.Clock) StepExecutor {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	return defaultExecutor{persistence: persistence, clock: clock}
}

func (d defaultExecutor) Execute(ctx context.Context, op moduledef.Operation) (any, error) {
	if op.Kind.IsDestructive() {
		return nil, fmt.Errorf("operation %q declares destructive kind %q, which the registration step should have already rejected", op.ID, op.Kind)
	}
	marker := map[string]any{
		"operationId": op.ID,
		"kind": string(op.Kind),
		"ranAt": d.clock.Now(),
		"params": op.Params,
	}
	return marker, nil
}
