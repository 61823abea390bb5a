package rollback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }
func (c fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

type recordingExecutor struct {
	calls   []string
	failIDs map[string]int // operation id -> number of times to fail before succeeding
}

func (r *recordingExecutor) Execute(ctx context.Context, op moduledef.Operation) (any, error) {
	r.calls = append(r.calls, op.ID)
	if remaining, ok := r.failIDs[op.ID]; ok && remaining > 0 {
		r.failIDs[op.ID] = remaining - 1
		return nil, errors.New("transient failure")
	}
	return nil, nil
}

func TestBuildPlan_ReverseOrderAndMissingReverses(t *testing.T) {
	completed := []moduledef.Operation{{ID: "op1"}, {ID: "op2"}, {ID: "op3"}}
	declared := []moduledef.RollbackOperation{
		{ForOperationID: "op1", Reverse: moduledef.Operation{ID: "undo1"}},
		{ForOperationID: "op3", Reverse: moduledef.Operation{ID: "undo3"}},
	}
	plan := BuildPlan("mod1", "tenant:acme", completed, declared)

	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 reversible steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].ForOperationID != "op3" || plan.Steps[1].ForOperationID != "op1" {
		t.Fatalf("expected reverse order op3,op1; got %+v", plan.Steps)
	}
	if plan.PartialRollbackPossible {
		t.Fatal("expected PartialRollbackPossible=false since op2 has no declared reverse")
	}
	if len(plan.MissingReverses) != 1 || plan.MissingReverses[0] != "op2" {
		t.Fatalf("expected missing reverse for op2, got %+v", plan.MissingReverses)
	}
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	exec := &recordingExecutor{failIDs: map[string]int{}}
	eng := New(exec, fakeClock{now: time.Now()}, nil, nil)
	plan := Plan{ModuleID: "mod1", Steps: []Step{
		{ForOperationID: "op2", Reverse: moduledef.Operation{ID: "undo2"}},
		{ForOperationID: "op1", Reverse: moduledef.Operation{ID: "undo1"}},
	}}

	outcome, err := eng.Execute(context.Background(), plan, nil, nil, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !outcome.Success || len(outcome.CompletedSteps) != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestExecute_CriticalSafetyCheckAborts(t *testing.T) {
	exec := &recordingExecutor{failIDs: map[string]int{}}
	eng := New(exec, fakeClock{now: time.Now()}, nil, nil)
	plan := Plan{ModuleID: "mod1", Steps: []Step{{ForOperationID: "op1", Reverse: moduledef.Operation{ID: "undo1"}}}}

	safety := []SafetyCheck{{ID: "data_backup", Critical: true, Check: func() error { return errors.New("no backup present") }}}
	outcome, err := eng.Execute(context.Background(), plan, safety, nil, nil)
	if err == nil {
		t.Fatal("expected rollback_unsafe error")
	}
	if outcome.Success {
		t.Fatal("expected outcome.Success=false")
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no steps to run after unsafe abort, ran %v", exec.calls)
	}
}

func TestExecute_RetriesTransientFailureThenSucceeds(t *testing.T) {
	exec := &recordingExecutor{failIDs: map[string]int{"undo1": 2}}
	eng := New(exec, fakeClock{now: time.Now()}, nil, nil)
	plan := Plan{ModuleID: "mod1", Steps: []Step{
		{ForOperationID: "op1", Reverse: moduledef.Operation{ID: "undo1"}, Critical: true,
			Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}},
	}}

	outcome, err := eng.Execute(context.Background(), plan, nil, nil, nil)
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success outcome: %+v", outcome)
	}
	if len(exec.calls) != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", len(exec.calls))
	}
}

func TestExecute_CriticalStepExhaustsRetriesAndPinsRollbackRequired(t *testing.T) {
	exec := &recordingExecutor{failIDs: map[string]int{"undo1": 99}}
	eng := New(exec, fakeClock{now: time.Now()}, nil, nil)
	plan := Plan{ModuleID: "mod1", Steps: []Step{
		{ForOperationID: "op1", Reverse: moduledef.Operation{ID: "undo1"}, Critical: true,
			Retry: RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond}},
	}}

	outcome, err := eng.Execute(context.Background(), plan, nil, nil, nil)
	if err == nil {
		t.Fatal("expected rollback_required error after exhausting retries")
	}
	if outcome.Success {
		t.Fatal("expected outcome.Success=false")
	}
	if outcome.FailedStep != "op1" {
		t.Fatalf("expected failed step op1, got %q", outcome.FailedStep)
	}
}
