package core

import (
	"fmt"
	"sync"

	"github.com/modulecore/lifecycle/internal/validator"
)

// RuleCatalog is an in-process validator.RuleProvider: modules
// register their pre/post-activation and deactivation Rule
// declarations by id at startup, and the Orchestrator resolves the id
// lists a moduledef.Definition carries (ActivationRules,
// PostActivationRules, DeactivationRules) against it before every
// Validator pass. There is no registry package equivalent for rules
// because, unlike module definitions, rules are process-local Go
// closures (Rule.Evaluate) rather than data — they cannot be
// discovered from an external catalog.
type RuleCatalog struct {
	mu    sync.RWMutex
	rules map[string]validator.Rule
}

func NewRuleCatalog() *RuleCatalog {
	return &RuleCatalog{rules: make(map[string]validator.Rule)}
}

// Register adds or replaces rule by id. Safe to call after Evaluate
// calls are already in flight against other ids.
func (c *RuleCatalog) Register(rule validator.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[rule.ID] = rule
}

// RulesByID implements validator.RuleProvider.
func (c *RuleCatalog) RulesByID(ids []string) ([]validator.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]validator.Rule, 0, len(ids))
	for _, id := range ids {
		rule, ok := c.rules[id]
		if !ok {
			return nil, fmt.Errorf("no rule registered for id %q", id)
		}
		out = append(out, rule)
	}
	return out, nil
}
