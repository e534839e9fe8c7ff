package automation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func makeStep(ruleID uuid.UUID, pos int, kind StepKind) Step {
	return Step{
		ID:       uuid.New(),
		RuleID:   ruleID,
		Position: pos,
		Kind:     kind,
	}
}

func link(from *Step, to Step) {
	id := to.ID
	from.NextStepID = &id
}

func TestValidateGraph(t *testing.T) {
	ruleID := uuid.New()

	t.Run("linear chain is valid", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepCondition)
		b := makeStep(ruleID, 2, StepPause)
		c := makeStep(ruleID, 3, StepAction)
		link(&a, b)
		link(&b, c)
		if err := ValidateGraph(ruleID, []Step{a, b, c}); err != nil {
			t.Fatalf("ValidateGraph() error = %v", err)
		}
	})

	t.Run("foreign rule step rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		b := makeStep(uuid.New(), 2, StepAction)
		if err := ValidateGraph(ruleID, []Step{a, b}); err == nil {
			t.Error("expected error for step of another rule")
		}
	})

	t.Run("duplicate position rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		b := makeStep(ruleID, 1, StepAction)
		if err := ValidateGraph(ruleID, []Step{a, b}); err == nil {
			t.Error("expected error for duplicate positions")
		}
	})

	t.Run("dangling link rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		ghost := uuid.New()
		a.NextStepID = &ghost
		if err := ValidateGraph(ruleID, []Step{a}); err == nil {
			t.Error("expected error for link outside the rule")
		}
	})

	t.Run("two step cycle rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepCondition)
		b := makeStep(ruleID, 2, StepAction)
		link(&a, b)
		link(&b, a)
		if err := ValidateGraph(ruleID, []Step{a, b}); err == nil {
			t.Error("expected error for cycle")
		}
	})

	t.Run("self loop rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		id := a.ID
		a.NextStepID = &id
		if err := ValidateGraph(ruleID, []Step{a}); err == nil {
			t.Error("expected error for self loop")
		}
	})

	t.Run("cycle through false branch rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepCondition)
		b := makeStep(ruleID, 2, StepAction)
		link(&a, b)
		aID := a.ID
		bID := b.ID
		a.NextStepWhenFalseID = &bID
		b.NextStepID = &aID
		if err := ValidateGraph(ruleID, []Step{a, b}); err == nil {
			t.Error("expected error for cycle through false branch")
		}
	})

	t.Run("diamond without cycle is valid", func(t *testing.T) {
		cond := makeStep(ruleID, 1, StepCondition)
		left := makeStep(ruleID, 2, StepAction)
		right := makeStep(ruleID, 3, StepAction)
		join := makeStep(ruleID, 4, StepAction)
		leftID, rightID, joinID := left.ID, right.ID, join.ID
		cond.NextStepID = &leftID
		cond.NextStepWhenFalseID = &rightID
		left.NextStepID = &joinID
		right.NextStepID = &joinID
		if err := ValidateGraph(ruleID, []Step{cond, left, right, join}); err != nil {
			t.Fatalf("ValidateGraph() error = %v", err)
		}
	})
}

func TestInsertStep(t *testing.T) {
	ruleID := uuid.New()

	t.Run("append without anchor", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		n := makeStep(ruleID, 0, StepAction)
		out, err := InsertStep([]Step{a}, n, uuid.Nil, BranchTrue)
		if err != nil {
			t.Fatalf("InsertStep() error = %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("len = %d, want 2", len(out))
		}
		got := StepByID(out, n.ID)
		if got.Position != 2 {
			t.Errorf("appended position = %d, want 2", got.Position)
		}
		if got.NextStepID != nil {
			t.Error("appended step should have no successor")
		}
	})

	t.Run("splice displaces successor", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		b := makeStep(ruleID, 2, StepAction)
		link(&a, b)
		n := makeStep(ruleID, 0, StepPause)

		out, err := InsertStep([]Step{a, b}, n, a.ID, BranchTrue)
		if err != nil {
			t.Fatalf("InsertStep() error = %v", err)
		}
		gotA := StepByID(out, a.ID)
		gotN := StepByID(out, n.ID)
		if gotA.NextStepID == nil || *gotA.NextStepID != n.ID {
			t.Error("anchor should link to the new step")
		}
		if gotN.NextStepID == nil || *gotN.NextStepID != b.ID {
			t.Error("new step should inherit the displaced successor")
		}
	})

	t.Run("false branch splice", func(t *testing.T) {
		c := makeStep(ruleID, 1, StepCondition)
		b := makeStep(ruleID, 2, StepAction)
		bID := b.ID
		c.NextStepWhenFalseID = &bID
		n := makeStep(ruleID, 0, StepAction)

		out, err := InsertStep([]Step{c, b}, n, c.ID, BranchFalse)
		if err != nil {
			t.Fatalf("InsertStep() error = %v", err)
		}
		gotC := StepByID(out, c.ID)
		gotN := StepByID(out, n.ID)
		if gotC.NextStepWhenFalseID == nil || *gotC.NextStepWhenFalseID != n.ID {
			t.Error("false branch should point at the new step")
		}
		if gotN.NextStepID == nil || *gotN.NextStepID != b.ID {
			t.Error("new step should inherit the displaced false successor")
		}
	})

	t.Run("false branch on non condition rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		n := makeStep(ruleID, 0, StepAction)
		if _, err := InsertStep([]Step{a}, n, a.ID, BranchFalse); err == nil {
			t.Error("expected error: false branch only exists on condition steps")
		}
	})

	t.Run("unknown anchor rejected", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		n := makeStep(ruleID, 0, StepAction)
		if _, err := InsertStep([]Step{a}, n, uuid.New(), BranchTrue); err == nil {
			t.Error("expected error for missing anchor")
		}
	})
}

func TestRemoveStep(t *testing.T) {
	ruleID := uuid.New()

	t.Run("nullifies references", func(t *testing.T) {
		c := makeStep(ruleID, 1, StepCondition)
		victim := makeStep(ruleID, 2, StepAction)
		vID := victim.ID
		c.NextStepID = &vID
		c.NextStepWhenFalseID = &vID

		out, err := RemoveStep([]Step{c, victim}, victim.ID)
		if err != nil {
			t.Fatalf("RemoveStep() error = %v", err)
		}
		if len(out) != 1 {
			t.Fatalf("len = %d, want 1", len(out))
		}
		if out[0].NextStepID != nil || out[0].NextStepWhenFalseID != nil {
			t.Error("links to the removed step must be nullified")
		}
	})

	t.Run("missing step returns ErrNotFound", func(t *testing.T) {
		a := makeStep(ruleID, 1, StepAction)
		if _, err := RemoveStep([]Step{a}, uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestFirstStep(t *testing.T) {
	ruleID := uuid.New()
	if FirstStep(nil) != nil {
		t.Error("empty graph should have no first step")
	}
	a := makeStep(ruleID, 5, StepAction)
	b := makeStep(ruleID, 2, StepCondition)
	if got := FirstStep([]Step{a, b}); got.ID != b.ID {
		t.Errorf("FirstStep = position %d, want lowest position", got.Position)
	}
}
