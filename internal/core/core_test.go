package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modulecore/lifecycle/internal/core"
	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/persistence/lrucache"
	"github.com/modulecore/lifecycle/internal/persistence/memory"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/rollback"
)

func buildNoopPlan() rollback.Plan {
	return rollback.BuildPlan("test-module", "tenant-a", []moduledef.Operation{{ID: "create-table", Kind: moduledef.OpCreateTable}},
		[]moduledef.RollbackOperation{{ForOperationID: "create-table", Reverse: moduledef.Operation{ID: "drop-table", Kind: moduledef.OpDropTable}}})
}

func TestNew_RequiresPersistence(t *testing.T) {
	_, err := core.New(nil, nil, nil, nil, nil, nil, nil, core.Config{})
	require.Error(t, err)
}

func TestNew_WiresEveryCollaborator(t *testing.T) {
	store := memory.New()
	c, err := core.New(store, lrucache.New(10, 0), nil, nil, nil, nil, core.NewUsageProbe(store), core.Config{})
	require.NoError(t, err)

	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Security)
	assert.NotNil(t, c.Config)
	assert.NotNil(t, c.Rules)
	assert.NotNil(t, c.Validator)
	assert.NotNil(t, c.OpEngine)
	assert.NotNil(t, c.Migrations)
	assert.NotNil(t, c.Rollback)
	assert.NotNil(t, c.Orchestrator)
	assert.Equal(t, platform.SystemClock{}, c.Clock)
}

func TestNew_NilExecutorFallsBackForBothRollbackAndOrchestrator(t *testing.T) {
	// The default executor must reach the Rollback Engine too, not just
	// the Orchestrator — a nil-guard that only applied inside
	// orchestrator.New would leave rollback.New holding a nil
	// StepExecutor, panicking the first time a rollback plan ran a step.
	store := memory.New()
	c, err := core.New(store, lrucache.New(10, 0), nil, nil, nil, nil, core.NewUsageProbe(store), core.Config{})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		_, _ = c.Rollback.Execute(context.Background(), buildNoopPlan(), nil, nil, nil)
	})
}

func TestNew_DefaultsAreApplied(t *testing.T) {
	store := memory.New()
	c, err := core.New(store, lrucache.New(10, 0), nil, nil, nil, nil, core.NewUsageProbe(store), core.Config{
		ActivationTimeout:    -1,
		ValidatorParallelism: 0,
		OperationCacheTTL:    -1,
	})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
