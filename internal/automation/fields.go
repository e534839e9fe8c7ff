package automation

// FieldType is the declared value type of a condition field. It scopes
// which operators are legal and how values are parsed.
type FieldType string

const (
	FieldBool   FieldType = "boolean"
	FieldEnum   FieldType = "enum"
	FieldNumber FieldType = "number"
	FieldString FieldType = "string"
)

// Operator is a comparison operator. Legality is per field type, not global.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpContains           Operator = "contains"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
)

var operatorsByType = map[FieldType][]Operator{
	FieldBool:   {OpEquals},
	FieldEnum:   {OpEquals, OpNotEquals},
	FieldNumber: {OpEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual},
	FieldString: {OpEquals, OpContains, OpNotEquals},
}

// FieldValue is a resolved context value. Exactly one of the typed members
// is meaningful, according to the owning field's declared type.
type FieldValue struct {
	Bool   bool
	Number int64
	Str    string
}

// FieldSpec declares a single entry in the closed field registry: its type,
// its enum tokens (enum fields only) and a typed accessor over EvalContext.
// Resolve returns ok=false when the object the field lives on is not part of
// the current context; the condition then evaluates false instead of failing.
type FieldSpec struct {
	Type       FieldType
	EnumValues []string
	Resolve    func(ctx EvalContext) (FieldValue, bool)
}

// Operators returns the legal operator set for the field's type, in
// declaration order. The first entry is the default after a field change.
func (fs FieldSpec) Operators() []Operator {
	return operatorsByType[fs.Type]
}

// DefaultValue is the type-appropriate value a condition resets to when its
// field changes: "false" for booleans, the first enum token, "0" for
// numbers, "" for strings.
func (fs FieldSpec) DefaultValue() string {
	switch fs.Type {
	case FieldBool:
		return "false"
	case FieldEnum:
		if len(fs.EnumValues) > 0 {
			return fs.EnumValues[0]
		}
		return ""
	case FieldNumber:
		return "0"
	default:
		return ""
	}
}

// Fields is the closed registry of condition fields. Dotted keys mirror the
// object graph the editing UI exposes (incase.*, client.*, variant.*,
// message.*). Adding a field means adding exactly one entry here.
var Fields = map[string]FieldSpec{
	"incase.status": {
		Type:       FieldEnum,
		EnumValues: IncaseStatuses,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Incase == nil {
				return FieldValue{}, false
			}
			return FieldValue{Str: ctx.Incase.Status}, true
		},
	},
	"incase.channel": {
		Type:       FieldEnum,
		EnumValues: []string{"web_form", "email", "phone"},
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Incase == nil {
				return FieldValue{}, false
			}
			return FieldValue{Str: ctx.Incase.Channel}, true
		},
	},
	"incase.order_sum": {
		Type: FieldNumber,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Incase == nil {
				return FieldValue{}, false
			}
			return FieldValue{Number: ctx.Incase.OrderSum}, true
		},
	},
	"client.email_present": {
		Type: FieldBool,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Client == nil {
				return FieldValue{}, false
			}
			return FieldValue{Bool: ctx.Client.Email != ""}, true
		},
	},
	"client.phone_present": {
		Type: FieldBool,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Client == nil {
				return FieldValue{}, false
			}
			return FieldValue{Bool: ctx.Client.Phone != ""}, true
		},
	},
	"client.telegram_present": {
		Type: FieldBool,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Client == nil {
				return FieldValue{}, false
			}
			return FieldValue{Bool: ctx.Client.Telegram != ""}, true
		},
	},
	"client.email": {
		Type: FieldString,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Client == nil {
				return FieldValue{}, false
			}
			return FieldValue{Str: ctx.Client.Email}, true
		},
	},
	"variant.quantity": {
		Type: FieldNumber,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Variant == nil {
				return FieldValue{}, false
			}
			return FieldValue{Number: ctx.Variant.Quantity}, true
		},
	},
	"variant.sku": {
		Type: FieldString,
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Variant == nil {
				return FieldValue{}, false
			}
			return FieldValue{Str: ctx.Variant.SKU}, true
		},
	},
	"message.channel": {
		Type:       FieldEnum,
		EnumValues: []string{"email", "sms", "telegram"},
		Resolve: func(ctx EvalContext) (FieldValue, bool) {
			if ctx.Message == nil {
				return FieldValue{}, false
			}
			return FieldValue{Str: ctx.Message.Channel}, true
		},
	},
}

// LegalOperator reports whether op is legal for the given field key.
// Unknown fields are never legal.
func LegalOperator(field string, op Operator) bool {
	spec, ok := Fields[field]
	if !ok {
		return false
	}
	for _, legal := range spec.Operators() {
		if legal == op {
			return true
		}
	}
	return false
}
