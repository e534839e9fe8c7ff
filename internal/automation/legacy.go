package automation

import (
	"sort"

	"github.com/google/uuid"
)

// FlatRule is the legacy rule shape: a flat action list applied as one unit
// after an optional top-level delay, with only rule-level conditions. The
// runtime engine never sees this form — it is converted to a canonical step
// graph at import and walked like any other rule.
type FlatRule struct {
	Title         string        `json:"title"`
	Event         EventName     `json:"event"`
	Active        bool          `json:"active"`
	DelaySeconds  int           `json:"delay_seconds"`
	LogicOperator LogicOperator `json:"logic_operator"`
	Conditions    []FlatCondition
	Actions       []FlatAction
}

// FlatCondition is a legacy rule-level condition row.
type FlatCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// FlatAction is a legacy action row.
type FlatAction struct {
	Kind     ActionKind `json:"kind"`
	Position int        `json:"position"`
	Value    string     `json:"value"`
}

// ImportFlatRule converts a legacy flat rule into the canonical step-graph
// form: an optional leading pause step carrying the top-level delay,
// followed by one action step per action in position order, linked
// linearly. The delay survives only as the pause step; the returned rule's
// DelaySeconds is kept for provenance but nothing executes it.
func ImportFlatRule(accountID uuid.UUID, fr FlatRule) (*Rule, []Step, []Condition, []Action, error) {
	rule := &Rule{
		ID:            uuid.New(),
		AccountID:     accountID,
		Title:         fr.Title,
		Event:         fr.Event,
		Active:        fr.Active,
		DelaySeconds:  fr.DelaySeconds,
		LogicOperator: fr.LogicOperator,
	}
	if err := rule.Validate(); err != nil {
		return nil, nil, nil, nil, err
	}
	if len(fr.Conditions) == 0 {
		return nil, nil, nil, nil, &ValidationError{Field: "conditions", Message: "a rule needs at least one condition"}
	}

	conds := make([]Condition, 0, len(fr.Conditions))
	for i, fc := range fr.Conditions {
		c := Condition{
			ID:        uuid.New(),
			AccountID: accountID,
			RuleID:    rule.ID,
			Position:  i + 1,
			Field:     fc.Field,
			Operator:  fc.Operator,
			Value:     fc.Value,
		}
		if err := c.Validate(); err != nil {
			return nil, nil, nil, nil, err
		}
		conds = append(conds, c)
	}

	actions := make([]Action, 0, len(fr.Actions))
	for _, fa := range fr.Actions {
		a := Action{
			ID:        uuid.New(),
			AccountID: accountID,
			RuleID:    rule.ID,
			Kind:      fa.Kind,
			Position:  fa.Position,
			Value:     fa.Value,
		}
		if err := a.Validate(); err != nil {
			return nil, nil, nil, nil, err
		}
		actions = append(actions, a)
	}
	// Legacy clients send actions in arbitrary order; the position field is
	// authoritative for execution order.
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Position < actions[j].Position })

	var steps []Step
	position := 1
	addStep := func(s Step) *Step {
		s.ID = uuid.New()
		s.AccountID = accountID
		s.RuleID = rule.ID
		s.Position = position
		position++
		steps = append(steps, s)
		return &steps[len(steps)-1]
	}

	var prev *Step
	if fr.DelaySeconds > 0 {
		prev = addStep(Step{Kind: StepPause, DelaySeconds: fr.DelaySeconds})
	}
	for i := range actions {
		id := actions[i].ID
		s := addStep(Step{Kind: StepAction, ActionID: &id})
		if prev != nil {
			linkID := s.ID
			prev.NextStepID = &linkID
		}
		prev = s
	}

	if err := ValidateGraph(rule.ID, steps); err != nil {
		return nil, nil, nil, nil, err
	}
	rule.RebuildSnapshot(conds)
	return rule, steps, conds, actions, nil
}
