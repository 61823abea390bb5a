package opengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// Cache is the minimal result-cache contract the engine needs,
// generalized from a small get/set/delete cache interface
// down to the get/set/delete core this engine exercises.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// StateStore persists OperationState and a capped history of past
// results, backed by the Persistence collaborator's
// NamespaceOperationState namespace.
type StateStore struct {
	persistence platform.Persistence
	maxHistory int
}

func NewStateStore(p platform.Persistence, maxHistory int) *StateStore {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &StateStore{persistence: p, maxHistory: maxHistory}
}

func stateKey(operationID, moduleID string) string {
	return moduleID + "/" + operationID
}

func (s *StateStore) Load(ctx context.Context, operationID, moduleID string) (OperationState, bool, error) {
	raw, ok, err := s.persistence.Get(ctx, platform.NamespaceOperationState, stateKey(operationID, moduleID))
	if err != nil || !ok {
		return OperationState{}, ok, err
	}
	var st OperationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return OperationState{}, false, fmt.Errorf("decode operation state: %w", err)
	}
	return st, true, nil
}

func (s *StateStore) Save(ctx context.Context, st OperationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode operation state: %w", err)
	}
	if err := s.persistence.Put(ctx, platform.NamespaceOperationState, stateKey(st.OperationID, st.ModuleID), raw); err != nil {
		return err
	}
	return s.persistence.AppendLog(ctx, platform.NamespaceOperationState, raw)
}

// Engine executes Operations through the validate -> checkState ->
// cache -> execute -> persist pipeline Run documents below.
type Engine struct {
	store *StateStore
	cache Cache
	logger *slog.Logger
	group singleflight.Group

	mu sync.RWMutex
	lastStates map[string]OperationState // moduleId/operationId -> latest state, for dependency resolution
	defaultTTL time.Duration
}

// New constructs an Engine. cache may be nil to disable caching
// entirely regardless of individual operations' CachePolicy.
func New(store *StateStore, cache Cache, defaultTTL time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store: store,
		cache: cache,
		logger: logger,
		lastStates: make(map[string]OperationState),
		defaultTTL: defaultTTL,
	}
}

// Run executes op with params following the idempotent execution
// algorithm: validate -> pre-validate -> checkState short-circuit ->
// cache lookup -> dependency resolution -> execute -> post-validate ->
// re-checkState -> persist.
func (e *Engine) Run(ctx context.Context, op Operation, params map[string]any) Result {
	res := Result{OperationID: op.ID}

	if err := op.Schema.Validate(params); err != nil {
		res.Err = coreerrors.Validation("%v", err)
		return res
	}

	for _, rule := range op.PreValidation {
		if err := rule.Check(ctx); err != nil {
			if rule.Critical {
				res.Err = coreerrors.Validation("pre-validation rule %q failed: %v", rule.ID, err)
				return res
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("pre-validation rule %q: %v", rule.ID, err))
		}
	}

	if op.CheckState != nil {
		st, err := op.CheckState(ctx)
		if err != nil {
			res.Err = coreerrors.State("checkState for %q failed: %v", op.ID, err)
			return res
		}
		if st.State == StateCompleted || st.State == StateSkipped {
			res.Success = true
			res.WasIdempotent = true
			res.Output = st.LastResult
			res.State = st
			e.recordLast(op, st)
			return res
		}
	}

	var cacheKey string
	if op.Cache.Enabled && e.cache != nil {
		cacheKey = e.cacheKey(op, params)
		if op.Cache.Invalidate == nil || !op.Cache.Invalidate(params) {
			if raw, found, err := e.cache.Get(ctx, cacheKey); err == nil && found {
				var cached any
				if json.Unmarshal(raw, &cached) == nil {
					res.Success = true
					res.WasCached = true
					res.Output = cached
					return res
				}
			}
		}
	}

	if err := e.resolveDependencies(op); err != nil {
		res.Err = err
		return res
	}

	output, err, _ := e.group.Do(e.cacheKey(op, params), func() (any, error) {
		if op.Execute == nil {
			return nil, coreerrors.State("operation %q has no Execute hook", op.ID)
		}
		out, execErr := op.Execute(ctx, params)
		if execErr != nil {
			if op.Cleanup != nil {
				if cleanupErr := op.Cleanup(ctx, params); cleanupErr != nil {
					e.logger.Error("cleanup after failed execute also failed", "operation", op.ID, "error", cleanupErr)
				}
			}
			return nil, coreerrors.State("operation %q execute failed: %v", op.ID, execErr).With("cause", execErr.Error())
		}
		return out, nil
	})
	if err != nil {
		res.Err = err
		e.saveFailedState(ctx, op)
		return res
	}
	res.Output = output

	for _, rule := range op.PostValidation {
		if checkErr := rule.Check(ctx); checkErr != nil {
			if rule.Critical {
				res.Err = coreerrors.Validation("post-validation rule %q failed: %v", rule.ID, checkErr)
				e.saveFailedState(ctx, op)
				return res
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("post-validation rule %q: %v", rule.ID, checkErr))
		}
	}

	newState := OperationState{
		OperationID: op.ID,
		ModuleID: op.ModuleID,
		State: StateCompleted,
		Checksum: checksum(output),
		Timestamp: time.Now().UTC(),
		LastResult: output,
	}
	if op.CheckState != nil {
		if st, err := op.CheckState(ctx); err == nil {
			newState.State = st.State
		}
	}

	if e.store != nil {
		if err := e.store.Save(ctx, newState); err != nil {
			e.logger.Error("failed to persist operation state", "operation", op.ID, "error", err)
		}
	}
	e.recordLast(op, newState)

	if op.Cache.Enabled && e.cache != nil && cacheKey != "" {
		if raw, err := json.Marshal(output); err == nil {
			ttl := op.Cache.TTL
			if ttl <= 0 {
				ttl = e.defaultTTL
			}
			_ = e.cache.Set(ctx, cacheKey, raw, ttl)
		}
	}

	res.Success = true
	res.State = newState
	return res
}

func (e *Engine) cacheKey(op Operation, params map[string]any) string {
	if op.Cache.KeyFunc != nil {
		return op.ModuleID + "/" + op.ID + "/" + op.Cache.KeyFunc(params)
	}
	raw, _ := json.Marshal(params)
	return op.ModuleID + "/" + op.ID + "/" + checksum(raw)
}

func moduleOpKey(op Operation) string { return op.ModuleID + "::" + op.ID }

func (e *Engine) recordLast(op Operation, st OperationState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastStates[moduleOpKey(op)] = st
}

func (e *Engine) saveFailedState(ctx context.Context, op Operation) {
	st := OperationState{OperationID: op.ID, ModuleID: op.ModuleID, State: StateFailed, Timestamp: time.Now().UTC()}
	if e.store != nil {
		_ = e.store.Save(ctx, st)
	}
	e.recordLast(op, st)
}

// resolveDependencies checks every required dependency is in its
// declared end state; optional dependencies emit warnings only (the
// warnings aren't surfaced as a return value here since treats
// this check as abort-or-proceed — the caller's phase layer is
// responsible for warning aggregation across a whole plan).
func (e *Engine) resolveDependencies(op Operation) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, dep := range op.Dependencies {
		st, ok := e.lastStates[op.ModuleID+"::"+dep.OperationID]
		if !ok || st.State != dep.RequiredState {
			if dep.Optional {
				continue
			}
			return coreerrors.Dependency("operation %q requires %q to be %q", op.ID, dep.OperationID, dep.RequiredState)
		}
	}
	return nil
}

func checksum(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
