package automation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogicOperator joins a rule's (or step's) condition set.
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

var numberValueRe = regexp.MustCompile(`^\d+$`)

// Condition is a single typed comparison. It belongs to a rule directly or
// to a condition step — exactly one of RuleID/StepID is set.
type Condition struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	RuleID    uuid.UUID `json:"rule_id"`
	StepID    uuid.UUID `json:"step_id,omitempty"` // uuid.Nil when rule-level
	Position  int       `json:"position"`
	Field     string    `json:"field"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetField switches the condition to a new field and resets operator and
// value to the field's first legal operator and type default. Keeping a
// stale operator/value across a field change is exactly the invalid state
// this guard exists to prevent; callers must not bypass it.
func (c *Condition) SetField(field string) error {
	spec, ok := Fields[field]
	if !ok {
		return &ValidationError{Field: "field", Message: "unknown field " + field}
	}
	c.Field = field
	c.Operator = spec.Operators()[0]
	c.Value = spec.DefaultValue()
	return nil
}

// Validate checks the field/operator/value triple against the registry.
// Violations are edit-time ValidationErrors, rejected before persistence.
func (c *Condition) Validate() error {
	spec, ok := Fields[c.Field]
	if !ok {
		return &ValidationError{Field: "field", Message: "unknown field " + c.Field}
	}
	if !LegalOperator(c.Field, c.Operator) {
		return &ValidationError{Field: "operator", Message: string(c.Operator) + " is not legal for " + c.Field}
	}
	switch spec.Type {
	case FieldBool:
		if c.Value != "true" && c.Value != "false" {
			return &ValidationError{Field: "value", Message: "boolean value must be \"true\" or \"false\""}
		}
	case FieldEnum:
		if !containsString(spec.EnumValues, c.Value) {
			return &ValidationError{Field: "value", Message: c.Value + " is not an allowed value for " + c.Field}
		}
	case FieldNumber:
		if !numberValueRe.MatchString(c.Value) {
			return &ValidationError{Field: "value", Message: "number value must be a non-negative integer"}
		}
	}
	return nil
}

// Evaluate resolves the condition's field against ctx and applies the
// operator. A field whose object is absent from ctx resolves to false (the
// rule simply doesn't match this event). An unknown field or an operator
// illegal for its type is a ConfigError: validation should have caught it.
func (c *Condition) Evaluate(ctx EvalContext) (bool, error) {
	spec, ok := Fields[c.Field]
	if !ok {
		return false, &ConfigError{RuleID: c.RuleID.String(), Detail: "unknown condition field " + c.Field}
	}
	if !LegalOperator(c.Field, c.Operator) {
		return false, &ConfigError{RuleID: c.RuleID.String(), Detail: "operator " + string(c.Operator) + " illegal for " + c.Field}
	}

	val, resolved := spec.Resolve(ctx)
	if !resolved {
		return false, nil
	}

	switch spec.Type {
	case FieldBool:
		want := c.Value == "true"
		return val.Bool == want, nil

	case FieldNumber:
		want, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil {
			return false, &ConfigError{RuleID: c.RuleID.String(), Detail: "bad number value " + c.Value}
		}
		switch c.Operator {
		case OpEquals:
			return val.Number == want, nil
		case OpGreaterThan:
			return val.Number > want, nil
		case OpLessThan:
			return val.Number < want, nil
		case OpGreaterThanOrEqual:
			return val.Number >= want, nil
		case OpLessThanOrEqual:
			return val.Number <= want, nil
		}

	case FieldEnum, FieldString:
		switch c.Operator {
		case OpEquals:
			return val.Str == c.Value, nil
		case OpNotEquals:
			return val.Str != c.Value, nil
		case OpContains:
			return strings.Contains(val.Str, c.Value), nil
		}
	}

	return false, &ConfigError{RuleID: c.RuleID.String(), Detail: "unhandled operator " + string(c.Operator)}
}

// EvaluateSet applies a condition set under the given logic operator.
// An empty set is vacuously unmatched: a persisted rule always carries at
// least one condition, so an empty set here means the data is off.
func EvaluateSet(conds []Condition, logic LogicOperator, ctx EvalContext) (bool, error) {
	if len(conds) == 0 {
		return false, nil
	}
	for _, c := range conds {
		matched, err := c.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		if logic == LogicOr && matched {
			return true, nil
		}
		if logic != LogicOr && !matched {
			return false, nil
		}
	}
	return logic != LogicOr, nil
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
