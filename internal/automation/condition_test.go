package automation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func testContext() EvalContext {
	return EvalContext{
		Incase: &Incase{
			ID:       uuid.New(),
			ClientID: uuid.New(),
			Status:   "new",
			Channel:  "web_form",
			OrderSum: 4500,
		},
		Client: &Client{
			ID:    uuid.New(),
			Email: "anna@example.com",
			Phone: "",
		},
		Variant: &Variant{
			ID:       uuid.New(),
			SKU:      "SKU-1042",
			Quantity: 3,
		},
	}
}

func cond(field string, op Operator, value string) Condition {
	return Condition{
		ID:       uuid.New(),
		RuleID:   uuid.New(),
		Field:    field,
		Operator: op,
		Value:    value,
	}
}

func TestConditionEvaluate(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name  string
		cond  Condition
		want  bool
	}{
		{"enum equals match", cond("incase.status", OpEquals, "new"), true},
		{"enum equals mismatch", cond("incase.status", OpEquals, "done"), false},
		{"enum not_equals", cond("incase.channel", OpNotEquals, "phone"), true},
		{"bool true side", cond("client.email_present", OpEquals, "true"), true},
		{"bool false side", cond("client.phone_present", OpEquals, "false"), true},
		{"bool mismatch", cond("client.phone_present", OpEquals, "true"), false},
		{"number equals", cond("incase.order_sum", OpEquals, "4500"), true},
		{"number greater_than", cond("incase.order_sum", OpGreaterThan, "1000"), true},
		{"number greater_than false", cond("incase.order_sum", OpGreaterThan, "4500"), false},
		{"number less_than", cond("variant.quantity", OpLessThan, "5"), true},
		{"number gte boundary", cond("incase.order_sum", OpGreaterThanOrEqual, "4500"), true},
		{"number lte boundary", cond("variant.quantity", OpLessThanOrEqual, "3"), true},
		{"string equals", cond("client.email", OpEquals, "anna@example.com"), true},
		{"string contains", cond("variant.sku", OpContains, "104"), true},
		{"string contains miss", cond("variant.sku", OpContains, "999"), false},
		{"string not_equals", cond("client.email", OpNotEquals, "other@example.com"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(ctx)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionEvaluateMissingContext(t *testing.T) {
	// No objects in context at all: every field resolves to "absent" and
	// the condition is simply false, never an error.
	empty := EvalContext{}
	for field := range Fields {
		c := cond(field, Fields[field].Operators()[0], Fields[field].DefaultValue())
		got, err := c.Evaluate(empty)
		if err != nil {
			t.Errorf("field %s: unexpected error %v", field, err)
		}
		if got {
			t.Errorf("field %s: expected false on missing context", field)
		}
	}
}

func TestConditionEvaluateConfigErrors(t *testing.T) {
	ctx := testContext()

	t.Run("unknown field", func(t *testing.T) {
		c := cond("incase.nonexistent", OpEquals, "x")
		_, err := c.Evaluate(ctx)
		if !IsConfig(err) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})

	t.Run("illegal operator for type", func(t *testing.T) {
		c := cond("client.email_present", OpContains, "true")
		_, err := c.Evaluate(ctx)
		if !IsConfig(err) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})
}

func TestSetFieldResetsOperatorAndValue(t *testing.T) {
	c := cond("incase.order_sum", OpGreaterThan, "1000")

	if err := c.SetField("incase.status"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if c.Operator != OpEquals {
		t.Errorf("operator = %s, want %s", c.Operator, OpEquals)
	}
	if c.Value != "new" {
		t.Errorf("value = %q, want first enum token %q", c.Value, "new")
	}

	if err := c.SetField("client.email_present"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if c.Value != "false" {
		t.Errorf("bool default = %q, want \"false\"", c.Value)
	}

	if err := c.SetField("variant.quantity"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if c.Value != "0" {
		t.Errorf("number default = %q, want \"0\"", c.Value)
	}

	if err := c.SetField("no.such.field"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid enum", cond("incase.status", OpEquals, "in_progress"), false},
		{"enum value outside set", cond("incase.status", OpEquals, "bogus"), true},
		{"bool bad value", cond("client.email_present", OpEquals, "yes"), true},
		{"number not numeric", cond("incase.order_sum", OpGreaterThan, "lots"), true},
		{"number negative rejected", cond("incase.order_sum", OpGreaterThan, "-5"), true},
		{"operator illegal for bool", cond("client.email_present", OpGreaterThan, "true"), true},
		{"unknown field", cond("what.ever", OpEquals, "x"), true},
		{"valid string contains", cond("variant.sku", OpContains, "SKU"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestEvaluateSet(t *testing.T) {
	ctx := testContext()
	match := cond("incase.status", OpEquals, "new")
	miss := cond("incase.status", OpEquals, "done")

	t.Run("empty set never matches", func(t *testing.T) {
		got, err := EvaluateSet(nil, LogicAnd, ctx)
		if err != nil || got {
			t.Errorf("EvaluateSet(empty) = %v, %v; want false, nil", got, err)
		}
	})

	t.Run("and requires all", func(t *testing.T) {
		got, _ := EvaluateSet([]Condition{match, miss}, LogicAnd, ctx)
		if got {
			t.Error("AND with one failing condition should be false")
		}
		got, _ = EvaluateSet([]Condition{match, match}, LogicAnd, ctx)
		if !got {
			t.Error("AND with all passing conditions should be true")
		}
	})

	t.Run("or requires any", func(t *testing.T) {
		got, _ := EvaluateSet([]Condition{miss, match}, LogicOr, ctx)
		if !got {
			t.Error("OR with one passing condition should be true")
		}
		got, _ = EvaluateSet([]Condition{miss, miss}, LogicOr, ctx)
		if got {
			t.Error("OR with no passing condition should be false")
		}
	})

	t.Run("config error propagates", func(t *testing.T) {
		bad := cond("bogus.field", OpEquals, "x")
		_, err := EvaluateSet([]Condition{match, bad}, LogicAnd, ctx)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})
}
