package automation

import (
	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// RuleSet bundles a rule with its loaded conditions, split by ownership.
type RuleSet struct {
	Rule           Rule
	RuleConditions []Condition            // rule-level (StepID unset)
	StepConditions map[string][]Condition // keyed by step id, position order
	Steps          []Step
	Actions        map[string]Action // keyed by action id
}

// Match filters candidate rules for an incoming event: a rule matches when
// it is active, its trigger equals the event name, and its rule-level
// condition set holds under the rule's logic operator. Candidates arrive in
// creation order and matches keep that order; each matching rule is walked
// independently afterwards.
//
// A ConfigError from one rule's conditions skips that rule only.
func Match(event EventName, candidates []RuleSet, ctx EvalContext) []RuleSet {
	var matched []RuleSet
	for _, rs := range candidates {
		if !rs.Rule.Active || rs.Rule.Event != event {
			continue
		}
		ok, err := EvaluateSet(rs.RuleConditions, rs.Rule.LogicOperator, ctx)
		if err != nil {
			logger.Error("rule condition evaluation failed",
				"rule_id", rs.Rule.ID.String(), "event", string(event), "error", err.Error())
			continue
		}
		if ok {
			matched = append(matched, rs)
		}
	}
	return matched
}
