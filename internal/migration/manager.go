package migration

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/opengine"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
	"github.com/modulecore/lifecycle/internal/rollback"
)

// StepExecutor runs one declared forward or reverse operation. The
// caller (typically the Activation Orchestrator) supplies the concrete
// interpretation of each OperationKind.
type StepExecutor interface {
	Execute(ctx context.Context, op moduledef.Operation) (any, error)
}

// RuleRunner evaluates a named set of Validator rules against the
// current activation context. Declared here as a small interface
// rather than importing the validator package directly, so migration
// and validator can each be tested in isolation.
type RuleRunner interface {
	RunRules(ctx context.Context, ruleIDs []string, scope Scope) (passed bool, failures []string, err error)
}

// Manager drives a module's declared migrations through the Operation
// Engine, enforcing additive discipline, dependency ordering, and
// performance envelopes.
type Manager struct {
	engine *opengine.Engine
	persistence platform.Persistence
	rollback *rollback.Engine
	rules RuleRunner
	clock platform.Clock
	events platform.EventSink
	logger *slog.Logger
}

func New(engine *opengine.Engine, persistence platform.Persistence, rollbackEngine *rollback.Engine, rules RuleRunner, clock platform.Clock, events platform.EventSink, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{engine: engine, persistence: persistence, rollback: rollbackEngine, rules: rules, clock: clock, events: events, logger: logger}
}

func recordKey(scopeKey, migrationID string) string {
	return scopeKey + "/" + migrationID
}

func (m *Manager) loadRecord(ctx context.Context, moduleID string, def moduledef.MigrationDef, scope Scope) (Record, bool, error) {
	raw, ok, err := m.persistence.Get(ctx, platform.NamespaceMigrationState, recordKey(scope.Key(), def.ID))
	if err != nil || !ok {
		return Record{}, ok, err
	}
	return decodeRecord(raw)
}

func (m *Manager) saveRecord(ctx context.Context, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return m.persistence.Put(ctx, platform.NamespaceMigrationState, recordKey(rec.ScopeKey, rec.MigrationID), raw)
}

// Run executes def against scope.
// executor interprets individual operations; automaticRollback, when
// true, invokes the Rollback Engine on any abort using the
// declaredReverses passed in.
func (m *Manager) Run(ctx context.Context, moduleID string, def moduledef.MigrationDef, scope Scope, executor StepExecutor, declaredReverses []moduledef.RollbackOperation, automaticRollback bool) Result {
	res := Result{MigrationID: def.ID, State: RecordInProgress}

	if err := def.Validate(); err != nil {
		res.State = RecordFailed
		res.Err = coreerrors.Migration(err, "migration %s rejected at registration", def.ID)
		return res
	}

	if existing, ok, err := m.loadRecord(ctx, moduleID, def, scope); err == nil && ok && existing.State == RecordCompleted {
		res.State = RecordCompleted
		return res
	}

	if err := m.resolveDependencies(ctx, moduleID, def, scope); err != nil {
		res.State = RecordFailed
		res.Err = err
		return res
	}

	if m.rules != nil && len(def.PreRules) > 0 {
		passed, failures, err := m.rules.RunRules(ctx, def.PreRules, scope)
		if err != nil || !passed {
			res.State = RecordFailed
			res.Err = coreerrors.Migration(err, "pre-migration validation failed for %s: %v", def.ID, failures)
			return res
		}
	}

	start := m.clock.Now()
	var completedOps []moduledef.Operation
	for _, op := range def.Forward {
		stepOp := toEngineOperation(moduleID, def.ID, op, executor)
		opRes := m.engine.Run(ctx, stepOp, op.Params)
		if opRes.Err != nil {
			if op.Critical {
				res.State = RecordFailed
				res.Err = coreerrors.Migration(opRes.Err, "migration %s: critical forward operation %q failed", def.ID, op.ID)
				res.CompletedOps = opNames(completedOps)
				return m.maybeRollback(ctx, moduleID, def, scope, res, completedOps, declaredReverses, automaticRollback)
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("operation %q failed (non-critical): %v", op.ID, opRes.Err))
			continue
		}
		completedOps = append(completedOps, op)

		if env := def.Performance; env.MaxExecutionTimeMs > 0 {
			elapsed := m.clock.Now().Sub(start).Milliseconds()
			if elapsed > int64(env.MaxExecutionTimeMs) {
				res.State = RecordFailed
				res.Err = coreerrors.Migration(nil, "migration %s exceeded max execution time (%dms > %dms)", def.ID, elapsed, env.MaxExecutionTimeMs)
				res.CompletedOps = opNames(completedOps)
				return m.maybeRollback(ctx, moduleID, def, scope, res, completedOps, declaredReverses, automaticRollback)
			}
			if env.WarnThresholdMs > 0 && elapsed > int64(env.WarnThresholdMs) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("migration %s exceeded performance warning threshold (%dms > %dms)", def.ID, elapsed, env.WarnThresholdMs))
			}
		}
	}

	for _, check := range def.Integrity {
		observed, expected, err := check.Predicate()
		if err != nil || math.Abs(observed-expected) > check.ToleranceAbs {
			res.State = RecordFailed
			res.Err = coreerrors.Migration(err, "migration %s: integrity check %q out of tolerance (observed=%v expected=%v tolerance=%v)", def.ID, check.ID, observed, expected, check.ToleranceAbs)
			res.CompletedOps = opNames(completedOps)
			return m.maybeRollback(ctx, moduleID, def, scope, res, completedOps, declaredReverses, automaticRollback)
		}
	}

	if m.rules != nil && len(def.PostRules) > 0 {
		passed, failures, err := m.rules.RunRules(ctx, def.PostRules, scope)
		if err != nil || !passed {
			res.State = RecordFailed
			res.Err = coreerrors.Migration(err, "post-migration validation failed for %s: %v", def.ID, failures)
			res.CompletedOps = opNames(completedOps)
			return m.maybeRollback(ctx, moduleID, def, scope, res, completedOps, declaredReverses, automaticRollback)
		}
	}

	rec := Record{MigrationID: def.ID, ModuleID: moduleID, ScopeKey: scope.Key(), Version: def.Version, State: RecordCompleted, CompletedAt: m.clock.Now()}
	if err := m.saveRecord(ctx, rec); err != nil {
		m.logger.Error("failed to persist migration completion record", "migration", def.ID, "error", err)
	}
	res.State = RecordCompleted
	res.CompletedOps = opNames(completedOps)
	return res
}

func (m *Manager) maybeRollback(ctx context.Context, moduleID string, def moduledef.MigrationDef, scope Scope, res Result, completed []moduledef.Operation, declared []moduledef.RollbackOperation, automatic bool) Result {
	rec := Record{MigrationID: def.ID, ModuleID: moduleID, ScopeKey: scope.Key(), Version: def.Version, State: RecordFailed, CompletedAt: m.clock.Now()}
	if err := m.saveRecord(ctx, rec); err != nil {
		m.logger.Error("failed to persist migration failure record", "migration", def.ID, "error", err)
	}
	if !automatic || m.rollback == nil {
		return res
	}
	plan := rollback.BuildPlan(moduleID, scope.Key(), completed, declared)
	outcome, err := m.rollback.Execute(ctx, plan, nil, nil, nil)
	res.RollbackOutcome = &RollbackSummary{Attempted: true, Success: outcome.Success, Cause: err}
	if outcome.Success {
		rec.State = RecordRolledBack
		_ = m.saveRecord(ctx, rec)
	}
	return res
}

// resolveDependencies enforces 's dependency gate: required
// deps must be completed for scope, optional missing deps only warn,
// conflicting deps must be not_executed.
func (m *Manager) resolveDependencies(ctx context.Context, moduleID string, def moduledef.MigrationDef, scope Scope) error {
	for _, dep := range def.Dependencies {
		raw, ok, err := m.persistence.Get(ctx, platform.NamespaceMigrationState, recordKey(scope.Key(), dep.MigrationID))
		if err != nil {
			return coreerrors.Dependency("failed to resolve migration dependency %q for %q: %v", dep.MigrationID, def.ID, err)
		}
		var state RecordState = RecordNotExecuted
		if ok {
			rec, _, decodeErr := decodeRecord(raw)
			if decodeErr == nil {
				state = rec.State
			}
		}
		switch dep.Kind {
		case moduledef.DependencyRequired:
			if state != RecordCompleted {
				return coreerrors.Dependency("migration %q requires %q to be completed for scope %s, is %q", def.ID, dep.MigrationID, scope.Key(), state)
			}
		case moduledef.DependencyConflicting:
			if state != RecordNotExecuted {
				return coreerrors.Dependency("migration %q conflicts with %q, which is already %q for scope %s", def.ID, dep.MigrationID, state, scope.Key())
			}
		case moduledef.DependencyOptional:
			// missing optional deps only warn; handled by caller logging if desired.
		}
	}
	return nil
}

func toEngineOperation(moduleID, migrationID string, op moduledef.Operation, executor StepExecutor) opengine.Operation {
	return opengine.Operation{
		ID: migrationID + "/" + op.ID,
		ModuleID: moduleID,
		Schema: opengine.ParamSchema{},
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			return executor.Execute(ctx, op)
		},
	}
}

func opNames(ops []moduledef.Operation) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.ID
	}
	return names
}
