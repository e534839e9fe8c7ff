package automation

import (
	"sort"

	"github.com/google/uuid"
)

// Branch selects which forward link of a condition step an insertion
// attaches to.
type Branch string

const (
	BranchTrue  Branch = "true"
	BranchFalse Branch = "false"
)

// FirstStep returns the step with the lowest position, the walk entry
// point. Returns nil for an empty graph.
func FirstStep(steps []Step) *Step {
	var first *Step
	for i := range steps {
		if first == nil || steps[i].Position < first.Position {
			first = &steps[i]
		}
	}
	return first
}

// StepByID returns the step with the given id, or nil.
func StepByID(steps []Step, id uuid.UUID) *Step {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

// ValidateGraph checks the structural invariants of a rule's step graph:
// every link references a step of the same rule, positions are unique, and
// the forward-link graph is acyclic. Cycles are rejected here so the engine
// never has to trust operator-edited links.
func ValidateGraph(ruleID uuid.UUID, steps []Step) error {
	byID := make(map[uuid.UUID]*Step, len(steps))
	positions := make(map[int]bool, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.RuleID != ruleID {
			return &ValidationError{Field: "rule_id", Message: "step belongs to a different rule"}
		}
		if positions[s.Position] {
			return &ValidationError{Field: "position", Message: "duplicate step position"}
		}
		positions[s.Position] = true
		byID[s.ID] = s
	}

	check := func(link *uuid.UUID) error {
		if link == nil {
			return nil
		}
		if _, ok := byID[*link]; !ok {
			return &ValidationError{Field: "next_step", Message: "link references a step outside the rule"}
		}
		return nil
	}
	for i := range steps {
		if err := check(steps[i].NextStepID); err != nil {
			return err
		}
		if err := check(steps[i].NextStepWhenFalseID); err != nil {
			return err
		}
	}

	// Cycle detection over both link kinds, DFS with colors.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(steps))
	var visit func(id uuid.UUID) bool
	visit = func(id uuid.UUID) bool {
		s, ok := byID[id]
		if !ok {
			return false
		}
		switch color[id] {
		case grey:
			return true
		case black:
			return false
		}
		color[id] = grey
		for _, link := range []*uuid.UUID{s.NextStepID, s.NextStepWhenFalseID} {
			if link != nil && visit(*link) {
				return true
			}
		}
		color[id] = black
		return false
	}
	for i := range steps {
		if visit(steps[i].ID) {
			return &ValidationError{Field: "next_step", Message: "step links form a cycle"}
		}
	}
	return nil
}

// InsertStep splices newStep into the graph after the step with afterID.
// When after is a condition step, branch picks which of its forward links
// the new step attaches to. The displaced successor on that link, if any,
// becomes the new step's successor, so nothing downstream turns unreachable.
//
// With afterID == uuid.Nil the step is appended with no incoming link.
// The returned slice shares backing storage with steps; callers persist the
// whole mutation in one transaction.
func InsertStep(steps []Step, newStep Step, afterID uuid.UUID, branch Branch) ([]Step, error) {
	newStep.Position = nextPosition(steps)

	if afterID != uuid.Nil {
		after := StepByID(steps, afterID)
		if after == nil {
			return nil, &ValidationError{Field: "insert_after", Message: "insert-after step not found"}
		}
		link := &after.NextStepID
		if branch == BranchFalse {
			if after.Kind != StepCondition {
				return nil, &ValidationError{Field: "branch", Message: "false branch only exists on condition steps"}
			}
			link = &after.NextStepWhenFalseID
		}
		newStep.NextStepID = *link // displaced successor follows the new step
		id := newStep.ID
		*link = &id
	}

	out := append(steps, newStep)
	if err := ValidateGraph(newStep.RuleID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveStep deletes the step with the given id and nullifies every other
// step's link that pointed at it. Referential cleanup only: the removed
// step's own successors are not re-linked, and a referenced action row is
// left alone (the rule owns it).
func RemoveStep(steps []Step, id uuid.UUID) ([]Step, error) {
	if StepByID(steps, id) == nil {
		return nil, ErrNotFound
	}
	out := steps[:0]
	for i := range steps {
		if steps[i].ID == id {
			continue
		}
		s := steps[i]
		if s.NextStepID != nil && *s.NextStepID == id {
			s.NextStepID = nil
		}
		if s.NextStepWhenFalseID != nil && *s.NextStepWhenFalseID == id {
			s.NextStepWhenFalseID = nil
		}
		out = append(out, s)
	}
	return out, nil
}

// SortByPosition orders steps ascending by position, in place.
func SortByPosition(steps []Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
}

func nextPosition(steps []Step) int {
	max := 0
	for i := range steps {
		if steps[i].Position > max {
			max = steps[i].Position
		}
	}
	return max + 1
}
