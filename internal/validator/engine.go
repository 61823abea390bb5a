package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modulecore/lifecycle/internal/migration"
	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/appconfig"
)

// RuleProvider resolves rule ids to their declarations. The Activation
// Orchestrator and Migration Manager both hand the Engine whichever
// rules apply to their current context.
type RuleProvider interface {
	RulesByID(ids []string) ([]Rule, error)
}

// Engine evaluates rule sets and retains a bounded history of past
// results per module.
type Engine struct {
	provider RuleProvider
	persistence platform.Persistence
	clock platform.Clock
	logger *slog.Logger
	maxHistory int
	retry appconfig.RetryPolicy
}

// New wires an Engine. retry governs how many times a rule whose
// Evaluate call returns an error (as opposed to a business-logic
// failure) is retried before the failure is taken as final; a
// zero-value RetryPolicy runs every rule exactly once.
func New(provider RuleProvider, persistence platform.Persistence, clock platform.Clock, logger *slog.Logger, maxHistory int, retry appconfig.RetryPolicy) *Engine {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Engine{provider: provider, persistence: persistence, clock: clock, logger: logger, maxHistory: maxHistory, retry: retry}
}

// Evaluate runs rules, chunked strictly by dependency generation
// regardless of parallelism — no rule ever runs concurrently with one
// of its unresolved dependencies. Within a generation, up to
// parallelism rules run concurrently via errgroup.
func (e *Engine) Evaluate(ctx context.Context, moduleID string, rules []Rule, parallelism int, abortOnCritical bool) (Summary, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	generations := topologicalGenerations(rules)

	summary := Summary{
		ModuleID: moduleID,
		CountsByCategory: make(map[Category]int),
		CountsBySeverity: make(map[Severity]int),
	}

	passedCount := 0
	total := 0

generationLoop:
	for _, gen := range generations {
		results := make([]RuleResult, len(gen))
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(parallelism)

		for i, rule := range gen {
			i, rule := i, rule
			group.Go(func() error {
				results[i] = e.runRule(gctx, rule)
				return nil
			})
		}
		_ = group.Wait()

		for _, res := range results {
			total++
			summary.Results = append(summary.Results, res)
			summary.CountsByCategory[res.Category]++
			summary.CountsBySeverity[res.Severity]++
			if res.Passed {
				passedCount++
			}
			if !res.Passed && res.Severity == SeverityCritical && abortOnCritical {
				summary.AbortedEarly = true
				break generationLoop
			}
		}
	}

	if total > 0 {
		summary.Score = (passedCount * 100) / total
	}
	summary.Verdict = verdictFor(summary)

	if e.persistence != nil {
		e.appendHistory(ctx, moduleID, summary)
	}
	return summary, nil
}

func verdictFor(s Summary) Verdict {
	for _, r := range s.Results {
		if !r.Passed && r.Severity == SeverityCritical {
			return VerdictFail
		}
	}
	for _, r := range s.Results {
		if !r.Passed && r.Severity == SeverityError {
			return VerdictFail
		}
	}
	for _, r := range s.Results {
		if !r.Passed {
			return VerdictWarning
		}
	}
	return VerdictPass
}

func (e *Engine) runRule(ctx context.Context, rule Rule) RuleResult {
	start := e.clock.Now()

	maxAttempts := e.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var res RuleResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res = e.evaluateOnce(ctx, rule, start)
		// Only an evaluation error (infrastructure flake) is retried; a
		// clean failed/timed-out result is the rule's real verdict.
		if res.Err == nil || res.TimedOut || attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return res
		case <-e.clock.After(e.retry.Delay(attempt)):
		}
	}
	return res
}

func (e *Engine) evaluateOnce(ctx context.Context, rule Rule, start time.Time) RuleResult {
	ruleCtx := ctx
	var cancel context.CancelFunc
	if rule.Timeout > 0 {
		ruleCtx, cancel = context.WithTimeout(ctx, rule.Timeout)
		defer cancel()
	}

	type evalOut struct {
		passed bool
		message string
		err error
	}
	done := make(chan evalOut, 1)
	go func() {
		passed, message, err := rule.Evaluate(ruleCtx)
		done <- evalOut{passed, message, err}
	}()

	select {
	case out := <-done:
		return RuleResult{
			RuleID: rule.ID, Category: rule.Category, Severity: rule.Severity,
			Passed: out.passed && out.err == nil, Message: out.message, Err: out.err,
			DurationMs: e.clock.Now().Sub(start).Milliseconds(),
		}
	case <-ruleCtx.Done():
		return RuleResult{
			RuleID: rule.ID, Category: rule.Category, Severity: rule.Severity,
			Passed: false, TimedOut: true, Err: ruleCtx.Err(),
			Message: fmt.Sprintf("rule %q timed out after %s", rule.ID, rule.Timeout),
			DurationMs: e.clock.Now().Sub(start).Milliseconds(),
		}
	}
}

// topologicalGenerations orders rules into dependency-respecting
// generations. Circular dependencies are broken deterministically by
// forcing the lexicographically smallest remaining rule id into the
// next generation.
func topologicalGenerations(rules []Rule) [][]Rule {
	byID := make(map[string]Rule, len(rules))
	indegree := make(map[string]int, len(rules))
	remaining := make(map[string]bool, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
		remaining[r.ID] = true
	}
	for _, r := range rules {
		for _, dep := range r.Dependencies {
			if remaining[dep] {
				indegree[r.ID]++
			}
		}
	}

	var generations [][]Rule
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			var ids []string
			for id := range remaining {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			ready = []string{ids[0]}
		}
		sort.Strings(ready)

		gen := make([]Rule, 0, len(ready))
		for _, id := range ready {
			gen = append(gen, byID[id])
			delete(remaining, id)
		}
		generations = append(generations, gen)

		for id := range remaining {
			r := byID[id]
			for _, dep := range r.Dependencies {
				for _, doneID := range ready {
					if dep == doneID {
						indegree[id]--
					}
				}
			}
		}
	}
	return generations
}

func (e *Engine) appendHistory(ctx context.Context, moduleID string, summary Summary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		e.logger.Error("failed to encode validator summary for history", "module", moduleID, "error", err)
		return
	}
	if err := e.persistence.AppendLog(ctx, platform.NamespaceValidatorHistory, raw); err != nil {
		e.logger.Error("failed to append validator history", "module", moduleID, "error", err)
	}
}

// RunRules implements migration.RuleRunner: it resolves ruleIDs through
// the provider and evaluates them sequentially (pre/post-migration
// rule sets are small and order-sensitive, unlike a full activation
// rule set).
func (e *Engine) RunRules(ctx context.Context, ruleIDs []string, scope migration.Scope) (bool, []string, error) {
	rules, err := e.provider.RulesByID(ruleIDs)
	if err != nil {
		return false, nil, err
	}
	var failures []string
	for _, rule := range rules {
		res := e.runRule(ctx, rule)
		if !res.Passed {
			failures = append(failures, rule.ID)
			if rule.Required {
				return false, failures, nil
			}
		}
	}
	return len(failures) == 0, failures, nil
}
