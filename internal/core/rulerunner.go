package core

import (
	"context"
	"fmt"

	"github.com/modulecore/lifecycle/internal/migration"
	"github.com/modulecore/lifecycle/internal/validator"
)

// migrationRuleRunner adapts the Validator Engine into
// migration.RuleRunner so the Migration Manager's pre/post-migration
// rule gates reuse the same rule declarations and
// engine the Orchestrator uses for activation rules, rather than a
// second rule-evaluation path.
type migrationRuleRunner struct {
	catalog *RuleCatalog
	engine *validator.Engine
}

func newMigrationRuleRunner(catalog *RuleCatalog, engine *validator.Engine) *migrationRuleRunner {
	return &migrationRuleRunner{catalog: catalog, engine: engine}
}

func (r *migrationRuleRunner) RunRules(ctx context.Context, ruleIDs []string, scope migration.Scope) (bool, []string, error) {
	if len(ruleIDs) == 0 {
		return true, nil, nil
	}
	rules, err := r.catalog.RulesByID(ruleIDs)
	if err != nil {
		return false, nil, err
	}
	summary, err := r.engine.Evaluate(ctx, scope.Key(), rules, 1, false)
	if err != nil {
		return false, nil, err
	}
	if summary.Verdict == validator.VerdictPass {
		return true, nil, nil
	}
	var failures []string
	for _, res := range summary.Results {
		if !res.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", res.RuleID, res.Message))
		}
	}
	return false, failures, nil
}
