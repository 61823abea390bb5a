package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modulecore/lifecycle/internal/concurrency/lock"
	"github.com/modulecore/lifecycle/internal/migration"
	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/opengine"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
	"github.com/modulecore/lifecycle/internal/platform/logging"
	"github.com/modulecore/lifecycle/internal/registry"
	"github.com/modulecore/lifecycle/internal/rollback"
	"github.com/modulecore/lifecycle/internal/security"
	"github.com/modulecore/lifecycle/internal/tenantconfig"
	"github.com/modulecore/lifecycle/internal/validator"
)

// ModuleLookup resolves a registered module's full definition. The
// Registry stores Entry (definition + metadata); the Orchestrator only
// needs the Definition itself, expressed as a small interface so it
// can be faked in tests without constructing a full *registry.Registry.
type ModuleLookup interface {
	Get(moduleID string) (*registry.Entry, bool)
	ListAll() []*registry.Entry
}

// Engine drives the per-(moduleId, tenantId) activation lifecycle
// state machine, composing every other component behind
// Activate, Deactivate, and Status.
type Engine struct {
	registry ModuleLookup
	security *security.Manager
	config *tenantconfig.Manager
	rules validator.RuleProvider
	validator *validator.Engine
	opEngine *opengine.Engine
	migrations *migration.Manager
	rollback *rollback.Engine
	persistence platform.Persistence
	clock platform.Clock
	events platform.EventSink
	logger *slog.Logger
	pairLock lock.PairLock
	executor StepExecutor

	activationTimeout time.Duration
	parallelism int
}

// Config bundles the constructor's tunables so New doesn't grow an
// ever-longer positional parameter list. PairLock defaults to an
// in-process lock.KeyedMutex; pass a lock.RedisPairLock when more than
// one core process runs against the same tenants.
type Config struct {
	ActivationTimeout time.Duration
	ValidatorParallelism int
	PairLock lock.PairLock
}

// New wires an Engine from its collaborators. rules may be nil when no
// module declares activation/deactivation rules. executor interprets
// every module-declared migration and custom activation/deactivation
// operation; the same executor must back rb's construction
// (internal/rollback.New) so forward and compensating steps dispatch
// through one consistent interpretation of moduledef.OperationKind.
func New(reg ModuleLookup, sec *security.Manager, cfg *tenantconfig.Manager, rules validator.RuleProvider, val *validator.Engine, op *opengine.Engine, mig *migration.Manager, rb *rollback.Engine, persistence platform.Persistence, clock platform.Clock, events platform.EventSink, logger *slog.Logger, executor StepExecutor, tuning Config) *Engine {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = defaultExecutor{persistence: persistence, clock: clock}
	}
	if tuning.ActivationTimeout <= 0 {
		tuning.ActivationTimeout = 30 * time.Second
	}
	if tuning.ValidatorParallelism <= 0 {
		tuning.ValidatorParallelism = 4
	}
	if tuning.PairLock == nil {
		tuning.PairLock = lock.NewKeyedMutex()
	}
	return &Engine{
		registry: reg, security: sec, config: cfg, rules: rules, validator: val,
		opEngine: op, migrations: mig, rollback: rb, persistence: persistence,
		clock: clock, events: events, logger: logger, pairLock: tuning.PairLock,
		executor: executor, activationTimeout: tuning.ActivationTimeout, parallelism: tuning.ValidatorParallelism,
	}
}

func recordKey(moduleID, tenantID string) string { return lock.PairKey(moduleID, tenantID) }

// Status returns the current lifecycle record for (moduleID, tenantID),
// defaulting to StateUnregistered when no reference exists yet.
func (e *Engine) Status(ctx context.Context, moduleID, tenantID string) (Record, error) {
	rec, _, err := e.loadRecord(ctx, moduleID, tenantID)
	return rec, err
}

func (e *Engine) loadRecord(ctx context.Context, moduleID, tenantID string) (Record, bool, error) {
	raw, ok, err := e.persistence.Get(ctx, platform.NamespaceActivation, recordKey(moduleID, tenantID))
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return Record{ModuleID: moduleID, TenantID: tenantID, State: StateUnregistered}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode activation record: %w", err)
	}
	return rec, true, nil
}

func (e *Engine) saveRecord(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode activation record: %w", err)
	}
	if err := e.persistence.Put(ctx, platform.NamespaceActivation, recordKey(rec.ModuleID, rec.TenantID), raw); err != nil {
		return err
	}
	return e.persistence.AppendLog(ctx, platform.NamespaceActivation, raw)
}

func (e *Engine) transition(rec *Record, to LifecycleState, reason string) {
	rec.Transitions = append(rec.Transitions, Transition{From: rec.State, To: to, Reason: reason, Timestamp: e.clock.Now()})
	rec.State = to
	rec.UpdatedAt = e.clock.Now()
}

// Activate drives moduleID to `active` for tenantID through a 9-phase
// sequence: resolution, authorization, config merge, pre-activation
// validation, dependency gate, migrations, operations, post-activation
// validation, commit. Failures after forward work has started trigger
// the Rollback Engine. A repeated call on an already-active pair runs
// the phases again: the Migration Manager skips migrations it has
// recorded as completed, but a non-empty overlay is applied to the
// Tenant Configuration Manager again, and the integration-reservation
// step (for a module with integration points) and custom activation
// operations, which carry no checkState hook, execute again.
func (e *Engine) Activate(ctx context.Context, moduleID, tenantID string, overlay map[string]any, opts ActivationOptions) ActivationResult {
	if opts.CallerTenantID == "" {
		opts.CallerTenantID = tenantID
	}
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID("activate"))
	ctx, cancel := context.WithTimeout(ctx, e.activationTimeout)
	defer cancel()

	release, err := e.pairLock.Lock(ctx, lock.PairKey(moduleID, tenantID))
	if err != nil {
		return ActivationResult{Err: err}
	}
	defer release()

	rec, existed, err := e.loadRecord(ctx, moduleID, tenantID)
	if err != nil {
		return ActivationResult{Err: err}
	}
	if !existed {
		e.transition(&rec, StateUnregistered, "first reference")
	}
	if rec.State == StateRollbackRequired {
		return ActivationResult{Record: rec, Err: coreerrors.RollbackRequired("module %s for tenant %s is pinned rollback_required; operator intervention required", moduleID, tenantID)}
	}

	e.events.Emit(platform.Event{Kind: platform.EventBeforeActivate, ModuleID: moduleID, TenantID: tenantID, Timestamp: e.clock.Now()})

	// Phase 1: resolution.
	entry, ok := e.registry.Get(moduleID)
	if !ok || entry.Status == registry.StatusError || entry.Status == registry.StatusUnregistered {
		e.transition(&rec, StateError, "module not registered or in error status")
		_ = e.saveRecord(ctx, rec)
		return ActivationResult{Record: rec, Err: coreerrors.State("module %q is not in a registrable status", moduleID)}
	}
	def := entry.Definition
	e.transition(&rec, StateRegistered, "resolved registry entry")

	// Phase 2: authorization.
	if e.security != nil {
		if _, err := e.security.Validate(ctx, opts.CallerTenantID, tenantID, security.OperationModuleActivate, opts.ActorID, opts.SessionID, opts.Source); err != nil {
			e.transition(&rec, StateError, "authorization denied")
			_ = e.saveRecord(ctx, rec)
			return ActivationResult{Record: rec, Err: err}
		}
	}

	var warnings []string

	// Phase 3: config merge, validate, sanitize.
	if e.config != nil {
		e.config.RegisterModule(def.ID, toConfigSchema(def.ConfigSchema), defaultSanitizeRules(def.ConfigSchema), tenantconfig.DefaultOnlyPolicy())
		if len(def.DefaultConfig) > 0 {
			if _, existing, _ := e.persistenceHasConfig(ctx, tenantID, def.ID); !existing {
				if err := e.config.Update(ctx, tenantID, def.ID, def.DefaultConfig, "default-config"); err != nil {
					e.transition(&rec, StateError, "default configuration rejected")
					_ = e.saveRecord(ctx, rec)
					return ActivationResult{Record: rec, Err: err}
				}
			}
		}
		if len(overlay) > 0 {
			if err := e.config.Update(ctx, tenantID, def.ID, overlay, opts.Source); err != nil {
				e.transition(&rec, StateError, "configuration validation failed")
				_ = e.saveRecord(ctx, rec)
				return ActivationResult{Record: rec, Err: err}
			}
		}
	}

	e.transition(&rec, StateValidating, "entering validation")

	// Phase 4: pre-activation validation.
	if e.validator != nil && len(def.ActivationRules) > 0 {
		rules, err := e.resolveRules(def.ActivationRules)
		if err != nil {
			e.transition(&rec, StateError, "failed to resolve activation rules")
			_ = e.saveRecord(ctx, rec)
			return ActivationResult{Record: rec, Err: err}
		}
		summary, err := e.validator.Evaluate(ctx, def.ID, rules, e.parallelism, true)
		if err != nil || summary.Verdict == validator.VerdictFail {
			e.transition(&rec, StateError, "pre-activation validation failed")
			_ = e.saveRecord(ctx, rec)
			return ActivationResult{Record: rec, Err: coreerrors.Validation("pre-activation validation failed for %s: verdict=%s score=%d", def.ID, summary.Verdict, summary.Score)}
		}
		if summary.Verdict == validator.VerdictWarning {
			warnings = append(warnings, fmt.Sprintf("pre-activation validation produced warnings (score %d)", summary.Score))
		}
	}

	// Phase 5: dependency gate.
	if depWarnings, err := e.checkDependencies(ctx, def, tenantID); err != nil {
		e.transition(&rec, StateError, "dependency gate failed")
		_ = e.saveRecord(ctx, rec)
		return ActivationResult{Record: rec, Err: err}
	} else {
		warnings = append(warnings, depWarnings...)
	}

	e.transition(&rec, StateReady, "validation and dependency gate passed")
	e.transition(&rec, StateActivating, "beginning forward execution")
	_ = e.saveRecord(ctx, rec)

	scope := migration.Scope{Kind: migration.ScopeTenant, ID: tenantID}
	var completedOps []moduledef.Operation

	// Phase 6+7: plan construction and execution — migrations, then
	// integration-point reservation, then custom activation operations.
	for _, m := range def.Migrations {
		res := e.migrations.Run(ctx, def.ID, m, scope, migrationExecutor{e.executor}, def.RollbackOperations, false)
		if res.Err != nil {
			completedOps = append(completedOps, completedForwardOps(m, res)...)
			return e.failActivation(ctx, &rec, def, scope, completedOps, opts, fmt.Errorf("migration %s failed: %w", m.ID, res.Err))
		}
		completedOps = append(completedOps, m.Forward...)
		warnings = append(warnings, res.Warnings...)
	}

	reserveOp := opengine.Operation{
		ID: "integration-reservation",
		ModuleID: def.ID,
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			return len(entry.Integrations), nil
		},
		CheckState: func(ctx context.Context) (opengine.OperationState, error) {
			if len(entry.Integrations) == 0 {
				return opengine.OperationState{State: opengine.StateSkipped}, nil
			}
			return opengine.OperationState{State: opengine.StateNotExecuted}, nil
		},
	}
	if res := e.opEngine.Run(ctx, reserveOp, nil); res.Err != nil {
		return e.failActivation(ctx, &rec, def, scope, completedOps, opts, fmt.Errorf("integration reservation failed: %w", res.Err))
	}

	for _, op := range def.ActivationOperations {
		engineOp := toActivationEngineOperation(def.ID, op, e.executor)
		res := e.opEngine.Run(ctx, engineOp, op.Params)
		if res.Err != nil {
			return e.failActivation(ctx, &rec, def, scope, completedOps, opts, fmt.Errorf("activation operation %s failed: %w", op.ID, res.Err))
		}
		completedOps = append(completedOps, op)
	}

	// Phase 8: post-activation validation.
	if e.validator != nil && len(def.PostActivationRules) > 0 {
		rules, err := e.resolveRules(def.PostActivationRules)
		if err != nil {
			return e.failActivation(ctx, &rec, def, scope, completedOps, opts, err)
		}
		summary, err := e.validator.Evaluate(ctx, def.ID, rules, e.parallelism, true)
		if err != nil || summary.Verdict == validator.VerdictFail {
			return e.failActivation(ctx, &rec, def, scope, completedOps, opts, coreerrors.Validation("post-activation validation failed for %s", def.ID))
		}
	}

	// Phase 9: commit.
	e.transition(&rec, StateActive, "activation committed")
	if err := e.saveRecord(ctx, rec); err != nil {
		logging.FromContext(ctx, e.logger).Error("failed to persist activation record", "module", def.ID, "tenant", tenantID, "error", err)
	}
	e.events.Emit(platform.Event{Kind: platform.EventAfterActivate, ModuleID: def.ID, TenantID: tenantID, Timestamp: e.clock.Now()})

	return ActivationResult{Record: rec, Warnings: warnings}
}

// failActivation composes and runs the Rollback Engine against the
// forward trail recorded so far, then pins the record to either
// `inactive` (rollback succeeded) or `rollback_required` (it did not).
func (e *Engine) failActivation(ctx context.Context, rec *Record, def moduledef.Definition, scope migration.Scope, completed []moduledef.Operation, opts ActivationOptions, cause error) ActivationResult {
	e.transition(rec, StateError, cause.Error())
	e.events.Emit(platform.Event{Kind: platform.EventActivationFailed, ModuleID: def.ID, TenantID: rec.TenantID, Timestamp: e.clock.Now(),
		Payload: map[string]any{"cause": cause.Error()}})

	plan := rollback.BuildPlan(def.ID, scope.Key(), completed, def.RollbackOperations)
	rollbackEngine := e.rollback
	if rollbackEngine == nil {
		_ = e.saveRecord(ctx, *rec)
		return ActivationResult{Record: *rec, Err: cause}
	}

	outcome, _ := rollbackEngine.Execute(ctx, plan, nil, nil, nil)
	if outcome.Success {
		e.transition(rec, StateInactive, "rollback completed after activation failure")
	} else {
		e.transition(rec, StateRollbackRequired, "rollback failed, operator intervention required")
	}
	if err := e.saveRecord(ctx, *rec); err != nil {
		logging.FromContext(ctx, e.logger).Error("failed to persist activation record after rollback", "module", def.ID, "tenant", rec.TenantID, "error", err)
	}
	if rec.State == StateRollbackRequired {
		return ActivationResult{Record: *rec, Err: coreerrors.RollbackRequired("activation of %s failed and rollback did not complete: %v", def.ID, cause)}
	}
	return ActivationResult{Record: *rec, Err: cause}
}

// Deactivate mirrors Activate: rejects if
// an active dependent requires moduleID, then runs declared deactivation
// operations. It does not release integration reservations; those stay
// owned by the module in the Registry until it is unregistered.
func (e *Engine) Deactivate(ctx context.Context, moduleID, tenantID string, opts DeactivationOptions) DeactivationResult {
	if opts.CallerTenantID == "" {
		opts.CallerTenantID = tenantID
	}
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID("deactivate"))
	ctx, cancel := context.WithTimeout(ctx, e.activationTimeout)
	defer cancel()

	release, err := e.pairLock.Lock(ctx, lock.PairKey(moduleID, tenantID))
	if err != nil {
		return DeactivationResult{Err: err}
	}
	defer release()

	rec, _, err := e.loadRecord(ctx, moduleID, tenantID)
	if err != nil {
		return DeactivationResult{Err: err}
	}
	if rec.State != StateActive {
		return DeactivationResult{Record: rec, Err: coreerrors.State("module %s for tenant %s is not active (state=%s)", moduleID, tenantID, rec.State)}
	}

	if e.security != nil {
		if _, err := e.security.Validate(ctx, opts.CallerTenantID, tenantID, security.OperationModuleDeactivate, opts.ActorID, opts.SessionID, opts.Source); err != nil {
			return DeactivationResult{Record: rec, Err: err}
		}
	}

	if err := e.checkNoActiveDependents(ctx, moduleID, tenantID); err != nil {
		return DeactivationResult{Record: rec, Err: err}
	}

	entry, ok := e.registry.Get(moduleID)
	if !ok {
		return DeactivationResult{Record: rec, Err: coreerrors.State("module %q is not registered", moduleID)}
	}
	def := entry.Definition

	if len(def.DeactivationRules) > 0 && e.validator != nil {
		rules, err := e.resolveRules(def.DeactivationRules)
		if err != nil {
			return DeactivationResult{Record: rec, Err: err}
		}
		summary, err := e.validator.Evaluate(ctx, def.ID, rules, e.parallelism, true)
		if err != nil || summary.Verdict == validator.VerdictFail {
			return DeactivationResult{Record: rec, Err: coreerrors.Validation("pre-deactivation validation failed for %s", def.ID)}
		}
	}

	e.events.Emit(platform.Event{Kind: platform.EventBeforeDeactivate, ModuleID: def.ID, TenantID: tenantID, Timestamp: e.clock.Now()})
	e.transition(&rec, StateDeactivating, "beginning deactivation operations")

	for _, op := range def.DeactivationOperations {
		engineOp := toActivationEngineOperation(def.ID, op, e.executor)
		if res := e.opEngine.Run(ctx, engineOp, op.Params); res.Err != nil {
			e.transition(&rec, StateError, fmt.Sprintf("deactivation operation %s failed: %v", op.ID, res.Err))
			_ = e.saveRecord(ctx, rec)
			return DeactivationResult{Record: rec, Err: res.Err}
		}
	}

	e.transition(&rec, StateInactive, "deactivation committed")
	if err := e.saveRecord(ctx, rec); err != nil {
		logging.FromContext(ctx, e.logger).Error("failed to persist activation record", "module", def.ID, "tenant", tenantID, "error", err)
	}
	e.events.Emit(platform.Event{Kind: platform.EventAfterDeactivate, ModuleID: def.ID, TenantID: tenantID, Timestamp: e.clock.Now()})

	return DeactivationResult{Record: rec}
}

func (e *Engine) checkNoActiveDependents(ctx context.Context, moduleID, tenantID string) error {
	for _, entry := range e.registry.ListAll() {
		for _, dep := range entry.Definition.Dependencies {
			if dep.ModuleID != moduleID || dep.Kind != moduledef.DependencyRequired {
				continue
			}
			depRec, _, err := e.loadRecord(ctx, entry.Definition.ID, tenantID)
			if err != nil {
				return err
			}
			if depRec.State == StateActive {
				return coreerrors.Dependency("cannot deactivate %s: module %s requires it and is active for tenant %s", moduleID, entry.Definition.ID, tenantID)
			}
		}
	}
	return nil
}

func (e *Engine) checkDependencies(ctx context.Context, def moduledef.Definition, tenantID string) ([]string, error) {
	var warnings []string
	for _, dep := range def.Dependencies {
		depRec, _, err := e.loadRecord(ctx, dep.ModuleID, tenantID)
		if err != nil {
			return nil, err
		}
		switch dep.Kind {
		case moduledef.DependencyRequired:
			if depRec.State != StateActive {
				return nil, coreerrors.Dependency("missing: [\"%s (not active)\"]", dep.ModuleID)
			}
			if w, err := e.checkConstraint(dep, true); err != nil {
				return nil, err
			} else if w != "" {
				warnings = append(warnings, w)
			}
		case moduledef.DependencyConflicting:
			if depRec.State == StateActive {
				return nil, coreerrors.Dependency("module %s conflicts with already-active module %s for tenant %s", def.ID, dep.ModuleID, tenantID)
			}
		case moduledef.DependencyOptional:
			if depRec.State != StateActive {
				warnings = append(warnings, fmt.Sprintf("optional dependency %s is not active", dep.ModuleID))
				continue
			}
			if w, err := e.checkConstraint(dep, false); err != nil {
				return nil, err
			} else if w != "" {
				warnings = append(warnings, w)
			}
		}
	}
	return warnings, nil
}

// checkConstraint resolves dep.ModuleID's currently registered version
// and evaluates it against dep.Constraint. An empty constraint always
// passes. strict turns a violated constraint into a dependency error;
// otherwise it becomes a warning, since the dependency's activation
// state was already confirmed satisfactory by the caller.
func (e *Engine) checkConstraint(dep moduledef.Dependency, strict bool) (string, error) {
	if dep.Constraint == "" {
		return "", nil
	}
	entry, ok := e.registry.Get(dep.ModuleID)
	if !ok {
		return "", nil
	}
	version, err := moduledef.ParseVersion(entry.Definition.Version)
	if err != nil {
		return "", nil
	}
	satisfied, err := moduledef.SatisfiesConstraint(version, dep.Constraint)
	if err != nil {
		return "", nil
	}
	if satisfied {
		return "", nil
	}
	if strict {
		return "", coreerrors.Dependency("dependency %s requires version %s, but registered version is %s", dep.ModuleID, dep.Constraint, version.String())
	}
	return fmt.Sprintf("optional dependency %s version %s does not satisfy constraint %s", dep.ModuleID, version.String(), dep.Constraint), nil
}

func (e *Engine) resolveRules(ids []string) ([]validator.Rule, error) {
	if e.rules == nil {
		return nil, nil
	}
	return e.rules.RulesByID(ids)
}

func (e *Engine) persistenceHasConfig(ctx context.Context, tenantID, moduleID string) ([]byte, bool, error) {
	return e.persistence.Get(ctx, platform.NamespaceConfig, tenantID+"/"+moduleID)
}

func defaultSanitizeRules(schema moduledef.ConfigSchema) []tenantconfig.SanitizeRule {
	return []tenantconfig.SanitizeRule{{Field: "*", Kind: tenantconfig.SanitizeTrim}}
}

// completedForwardOps returns the forward operations of m that actually
// completed according to res.CompletedOps, preserving declaration
// order so BuildPlan's reverse walk lines up with execution order.
func completedForwardOps(m moduledef.MigrationDef, res migration.Result) []moduledef.Operation {
	if len(res.CompletedOps) == 0 {
		return nil
	}
	done := make(map[string]bool, len(res.CompletedOps))
	for _, id := range res.CompletedOps {
		done[id] = true
	}
	var out []moduledef.Operation
	for _, op := range m.Forward {
		if done[op.ID] {
			out = append(out, op)
		}
	}
	return out
}

func toActivationEngineOperation(moduleID string, op moduledef.Operation, executor StepExecutor) opengine.Operation {
	return opengine.Operation{
		ID: op.ID,
		ModuleID: moduleID,
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			return executor.Execute(ctx, op)
		},
	}
}

// migrationExecutor adapts orchestrator.StepExecutor to
// migration.StepExecutor — the two interfaces are structurally
// identical but declared independently per package so each can be
// tested without importing the other.
type migrationExecutor struct {
	inner StepExecutor
}

func (m migrationExecutor) Execute(ctx context.Context, op moduledef.Operation) (any, error) {
	return m.inner.Execute(ctx, op)
}
