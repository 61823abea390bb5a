package validator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modulecore/lifecycle/internal/platform/appconfig"
)

var errTransient = errors.New("transient infrastructure error")

func alwaysPass(id string) Rule {
	return Rule{ID: id, Category: CategoryCompatibility, Severity: SeverityWarning,
		Evaluate: func(ctx context.Context) (bool, string, error) { return true, "", nil }}
}

func TestEvaluate_AllPassYieldsPassVerdictAndFullScore(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{})
	rules := []Rule{alwaysPass("r1"), alwaysPass("r2"), alwaysPass("r3")}

	summary, err := e.Evaluate(context.Background(), "mod1", rules, 4, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Verdict != VerdictPass {
		t.Fatalf("expected pass verdict, got %v", summary.Verdict)
	}
	if summary.Score != 100 {
		t.Fatalf("expected score 100, got %d", summary.Score)
	}
}

func TestEvaluate_CriticalFailureYieldsFailVerdict(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{})
	rules := []Rule{
		alwaysPass("r1"),
		{ID: "r2", Category: CategorySecurity, Severity: SeverityCritical,
			Evaluate: func(ctx context.Context) (bool, string, error) { return false, "missing TLS", nil }},
	}

	summary, err := e.Evaluate(context.Background(), "mod1", rules, 4, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Verdict != VerdictFail {
		t.Fatalf("expected fail verdict on critical failure, got %v", summary.Verdict)
	}
}

func TestEvaluate_AbortOnCriticalStopsLaterGenerations(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{})
	var laterRan int32
	rules := []Rule{
		{ID: "r1", Category: CategorySecurity, Severity: SeverityCritical,
			Evaluate: func(ctx context.Context) (bool, string, error) { return false, "fail", nil }},
		{ID: "r2", Dependencies: []string{"r1"}, Severity: SeverityWarning,
			Evaluate: func(ctx context.Context) (bool, string, error) {
				atomic.AddInt32(&laterRan, 1)
				return true, "", nil
			}},
	}

	summary, _ := e.Evaluate(context.Background(), "mod1", rules, 4, true)
	if !summary.AbortedEarly {
		t.Fatal("expected AbortedEarly=true")
	}
	if atomic.LoadInt32(&laterRan) != 0 {
		t.Fatal("expected dependent generation to never run after abort")
	}
}

func TestEvaluate_TimeoutCountsAsFailure(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{})
	rules := []Rule{
		{ID: "slow", Severity: SeverityError, Timeout: 5 * time.Millisecond,
			Evaluate: func(ctx context.Context) (bool, string, error) {
				<-ctx.Done()
				return true, "", nil
			}},
	}
	summary, err := e.Evaluate(context.Background(), "mod1", rules, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Results[0].Passed {
		t.Fatal("expected timed-out rule to be marked failed")
	}
	if !summary.Results[0].TimedOut {
		t.Fatal("expected TimedOut=true")
	}
}

func TestEvaluate_RetriesRuleEvaluationErrorsPerPolicy(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{MaxAttempts: 3, DelayMs: 1})
	var calls int32
	rules := []Rule{
		{ID: "flaky", Severity: SeverityWarning, Evaluate: func(ctx context.Context) (bool, string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return false, "", errTransient
			}
			return true, "recovered", nil
		}},
	}

	summary, err := e.Evaluate(context.Background(), "mod1", rules, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", calls)
	}
	if !summary.Results[0].Passed {
		t.Fatalf("expected rule to pass once retries exhaust the transient error, got %+v", summary.Results[0])
	}
}

func TestEvaluate_DoesNotRetryACleanBusinessFailure(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{MaxAttempts: 3, DelayMs: 1})
	var calls int32
	rules := []Rule{
		{ID: "r1", Severity: SeverityWarning, Evaluate: func(ctx context.Context) (bool, string, error) {
			atomic.AddInt32(&calls, 1)
			return false, "business rule failed", nil
		}},
	}

	_, err := e.Evaluate(context.Background(), "mod1", rules, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-error failure, got %d", calls)
	}
}

func TestTopologicalGenerations_RespectsDependencyOrder(t *testing.T) {
	rules := []Rule{
		alwaysPass("b"),
		{ID: "a", Dependencies: []string{"b"}, Evaluate: func(ctx context.Context) (bool, string, error) { return true, "", nil }},
		{ID: "c", Dependencies: []string{"a"}, Evaluate: func(ctx context.Context) (bool, string, error) { return true, "", nil }},
	}
	gens := topologicalGenerations(rules)
	if len(gens) != 3 {
		t.Fatalf("expected 3 generations (b, a, c), got %d: %+v", len(gens), gens)
	}
	if gens[0][0].ID != "b" || gens[1][0].ID != "a" || gens[2][0].ID != "c" {
		t.Fatalf("unexpected generation order: %+v", gens)
	}
}

func TestTopologicalGenerations_BreaksCyclesByLexicographicID(t *testing.T) {
	// x depends on y and y depends on x: a true cycle. The tie-break
	// forces the lexicographically smaller id ("x") into its own
	// generation first, breaking the deadlock deterministically.
	rules := []Rule{
		{ID: "y", Dependencies: []string{"x"}},
		{ID: "x", Dependencies: []string{"y"}},
	}
	gens := topologicalGenerations(rules)
	if len(gens) == 0 || gens[0][0].ID != "x" {
		t.Fatalf("expected cycle broken by forcing 'x' first, got %+v", gens)
	}
}

func TestEvaluate_ConcurrencyWithinGenerationRespectsParallelismCap(t *testing.T) {
	e := New(nil, nil, nil, nil, 0, appconfig.RetryPolicy{})
	var mu sync.Mutex
	var concurrent, maxConcurrent int

	makeRule := func(id string) Rule {
		return Rule{ID: id, Severity: SeverityInfo, Evaluate: func(ctx context.Context) (bool, string, error) {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			concurrent--
			mu.Unlock()
			return true, "", nil
		}}
	}
	rules := []Rule{makeRule("r1"), makeRule("r2"), makeRule("r3"), makeRule("r4")}

	_, err := e.Evaluate(context.Background(), "mod1", rules, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxConcurrent > 2 {
		t.Fatalf("expected at most 2 concurrent rule evaluations, observed %d", maxConcurrent)
	}
}
