package rollback

import (
	"context"
	"log/slog"
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// StepExecutor runs one reverse operation. It is supplied by whichever
// layer knows how to interpret an operation's Kind and Params (the
// Migration Manager and Activation Orchestrator both implement this
// against their own domains).
type StepExecutor interface {
	Execute(ctx context.Context, op moduledef.Operation) (any, error)
}

// Engine executes rollback plans.
type Engine struct {
	executor StepExecutor
	clock platform.Clock
	events platform.EventSink
	logger *slog.Logger
}

func New(executor StepExecutor, clock platform.Clock, events platform.EventSink, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{executor: executor, clock: clock, events: events, logger: logger}
}

// Execute runs plan's four phases: pre-rollback validation, safety
// checks, step execution, post-rollback validation. preCheck and
// postCheck may be nil when the caller has nothing to assert.
func (e *Engine) Execute(ctx context.Context, plan Plan, safetyChecks []SafetyCheck, preCheck, postCheck func() error) (Outcome, error) {
	if !plan.PartialRollbackPossible && len(plan.MissingReverses) > 0 {
		e.logger.Warn("rollback plan has operations with no declared reverse", "module", plan.ModuleID, "missing", plan.MissingReverses)
	}

	if preCheck != nil {
		if err := preCheck(); err != nil {
			cause := coreerrors.Rollback(err, "pre-rollback validation failed for module %s", plan.ModuleID)
			return Outcome{Success: false, Cause: cause}, cause
		}
	}

	for _, sc := range safetyChecks {
		if err := sc.Check(); err != nil {
			if sc.Critical {
				cause := coreerrors.Rollback(err, "rollback_unsafe: safety check %q failed", sc.ID)
				e.events.Emit(platform.Event{Kind: platform.EventError, ModuleID: plan.ModuleID, Timestamp: e.clock.Now(),
					Payload: map[string]any{"reason": "rollback_unsafe", "check": sc.ID}})
				return Outcome{Success: false, Cause: cause}, cause
			}
			e.logger.Warn("non-critical rollback safety check failed", "module", plan.ModuleID, "check", sc.ID, "error", err)
		}
	}

	outcome := Outcome{Success: true}
	for _, step := range plan.Steps {
		if err := e.runStep(ctx, step); err != nil {
			outcome.Success = false
			outcome.FailedStep = step.ForOperationID
			outcome.Cause = coreerrors.RollbackRequired("rollback step for %q failed: %v", step.ForOperationID, err)
			return outcome, outcome.Cause
		}
		outcome.CompletedSteps = append(outcome.CompletedSteps, step.ForOperationID)
	}

	if postCheck != nil {
		if err := postCheck(); err != nil {
			outcome.Success = false
			outcome.Cause = coreerrors.RollbackRequired("post-rollback validation failed: %v", err)
			return outcome, outcome.Cause
		}
	}

	return outcome, nil
}

func (e *Engine) runStep(ctx context.Context, step Step) error {
	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := step.Retry.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := e.executor.Execute(stepCtx, step.Reverse)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts || !step.Retry.allows(err) {
			break
		}
		select {
		case <-stepCtx.Done():
			return stepCtx.Err()
		case <-e.clock.After(delay):
		}
		if step.Retry.Multiplier > 1 {
			delay = time.Duration(float64(delay) * step.Retry.Multiplier)
			if step.Retry.MaxDelay > 0 && delay > step.Retry.MaxDelay {
				delay = step.Retry.MaxDelay
			}
		}
	}
	if step.Critical {
		return lastErr
	}
	e.logger.Warn("non-critical rollback step failed, continuing plan", "operation", step.ForOperationID, "error", lastErr)
	return nil
}
