// Package core wires every collaborator package into one running
// instance — an explicit composition root in place of ambient
// globals. Nothing outside this package constructs more than one
// collaborator at a time; cmd/server only ever calls core.New, and
// cmd/migrate does not use this package at all.
package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/modulecore/lifecycle/internal/concurrency/lock"
	"github.com/modulecore/lifecycle/internal/migration"
	"github.com/modulecore/lifecycle/internal/opengine"
	"github.com/modulecore/lifecycle/internal/orchestrator"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/appconfig"
	"github.com/modulecore/lifecycle/internal/registry"
	"github.com/modulecore/lifecycle/internal/rollback"
	"github.com/modulecore/lifecycle/internal/security"
	"github.com/modulecore/lifecycle/internal/tenantconfig"
	"github.com/modulecore/lifecycle/internal/validator"
)

// Config bundles every tunable core.New needs. Zero values fall back
// to the same defaults each collaborator's own constructor applies.
type Config struct {
	ActivationTimeout time.Duration
	ValidatorParallelism int
	ValidatorRetry appconfig.RetryPolicy
	OperationCacheTTL time.Duration
	OperationStateHistory int
	ValidatorHistory int
	FieldCipherSecret string
	SecurityAuditLogSize int
	ConfigHistoryMaxPerTenant int
	// PairLock serializes registry writes and activation/deactivation
	// critical sections. Nil falls back to an in-process lock.KeyedMutex
	// for each collaborator; pass the same lock.RedisPairLock to both
	// when running more than one core process against shared state.
	PairLock lock.PairLock
}

// Core holds every wired collaborator. Exported fields let cmd/server
// register module definitions, rules, and routes against the
// underlying components directly; Core itself only owns the wiring.
type Core struct {
	Persistence platform.Persistence
	Cache opengine.Cache
	Clock platform.Clock
	Events platform.EventSink
	Logger *slog.Logger

	Registry *registry.Registry
	Security *security.Manager
	Config *tenantconfig.Manager
	Rules *RuleCatalog
	Validator *validator.Engine
	OpEngine *opengine.Engine
	Migrations *migration.Manager
	Rollback *rollback.Engine
	Orchestrator *orchestrator.Engine
}

// New wires a Core. executor interprets every module-declared
// operation (migration step, activation/deactivation operation); it is
// passed to both the Rollback Engine and the Orchestrator so forward
// and compensating steps dispatch through the same interpretation.
func New(persistence platform.Persistence, cache opengine.Cache, clock platform.Clock, events platform.EventSink, logger *slog.Logger, executor orchestrator.StepExecutor, usageProbe security.UsageProbe, cfg Config) (*Core, error) {
	if persistence == nil {
		return nil, fmt.Errorf("core: persistence is required")
	}
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = 30 * time.Second
	}
	if cfg.ValidatorParallelism <= 0 {
		cfg.ValidatorParallelism = 4
	}
	if cfg.OperationCacheTTL <= 0 {
		cfg.OperationCacheTTL = 5 * time.Minute
	}
	if executor == nil {
		executor = orchestrator.NewDefaultExecutor(persistence, clock)
	}

	cipher := tenantconfig.NewFieldCipher(cipherSecretOrDefault(cfg.FieldCipherSecret))

	reg := registry.New(persistence, events, clock, logger, cfg.PairLock)
	sec := security.New(persistence, clock, events, logger, usageProbe, cfg.SecurityAuditLogSize)
	cfgMgr := tenantconfig.New(persistence, nil, clock, events, logger, cipher, cfg.ConfigHistoryMaxPerTenant)
	catalog := NewRuleCatalog()
	val := validator.New(catalog, persistence, clock, logger, cfg.ValidatorHistory, cfg.ValidatorRetry)

	stateStore := opengine.NewStateStore(persistence, cfg.OperationStateHistory)
	opEngine := opengine.New(stateStore, cache, cfg.OperationCacheTTL, logger)

	rb := rollback.New(executor, clock, events, logger)

	ruleRunner := newMigrationRuleRunner(catalog, val)
	mig := migration.New(opEngine, persistence, rb, ruleRunner, clock, events, logger)

	orch := orchestrator.New(reg, sec, cfgMgr, catalog, val, opEngine, mig, rb, persistence, clock, events, logger, executor,
		orchestrator.Config{ActivationTimeout: cfg.ActivationTimeout, ValidatorParallelism: cfg.ValidatorParallelism, PairLock: cfg.PairLock})

	return &Core{
		Persistence: persistence, Cache: cache, Clock: clock, Events: events, Logger: logger,
		Registry: reg, Security: sec, Config: cfgMgr, Rules: catalog, Validator: val,
		OpEngine: opEngine, Migrations: mig, Rollback: rb, Orchestrator: orch,
	}, nil
}

func cipherSecretOrDefault(secret string) string {
	if secret == "" {
		return "lifecycle-core-default-field-cipher-secret"
	}
	return secret
}
