package automation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepKind tags the step variant.
type StepKind string

const (
	StepCondition StepKind = "condition"
	StepPause     StepKind = "pause"
	StepAction    StepKind = "action"
)

// ActionKind is the closed set of action variants. Each kind carries its own
// value validation; there is exactly one dispatch point per kind in the
// delivery layer.
type ActionKind string

const (
	ActionSendEmail        ActionKind = "send_email"
	ActionSendEmailToUsers ActionKind = "send_email_to_users"
	ActionSendSMSAero      ActionKind = "send_sms_smsaero"
	ActionSendSMSC         ActionKind = "send_sms_smsc"
	ActionSendTelegram     ActionKind = "send_telegram"
	ActionChangeStatus     ActionKind = "change_status"
)

// ActionKinds lists every valid action kind.
var ActionKinds = []ActionKind{
	ActionSendEmail,
	ActionSendEmailToUsers,
	ActionSendSMSAero,
	ActionSendSMSC,
	ActionSendTelegram,
	ActionChangeStatus,
}

// Messaging reports whether the kind dispatches a message to a client (and
// therefore produces an AutomationMessage audit row).
func (k ActionKind) Messaging() bool {
	return k != ActionChangeStatus
}

// Channel returns the delivery channel for messaging kinds.
func (k ActionKind) Channel() string {
	switch k {
	case ActionSendEmail, ActionSendEmailToUsers:
		return "email"
	case ActionSendSMSAero, ActionSendSMSC:
		return "sms"
	case ActionSendTelegram:
		return "telegram"
	}
	return ""
}

// Rule is one automation rule, owned by a single account. It exclusively
// owns its steps, actions and rule-level conditions.
//
// ScheduledFor and PendingJobID track the rule's single live deferred job,
// if any; they exist so an edit can cancel or supersede it. The conditions
// snapshot is denormalized JSON rebuilt from the structured condition rows
// before every persist.
type Rule struct {
	ID                 uuid.UUID       `json:"id"`
	AccountID          uuid.UUID       `json:"account_id"`
	Title              string          `json:"title"`
	Event              EventName       `json:"event"`
	Active             bool            `json:"active"`
	DelaySeconds       int             `json:"delay_seconds"` // legacy top-level delay, import-only
	ScheduledFor       *time.Time      `json:"scheduled_for,omitempty"`
	PendingJobID       *uuid.UUID      `json:"pending_job_id,omitempty"`
	LogicOperator      LogicOperator   `json:"logic_operator"`
	ConditionsSnapshot json.RawMessage `json:"conditions_snapshot,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Step is one node of a rule's step graph, ordered by Position (unique
// within the rule). NextStepID is the successor on the true/normal path;
// NextStepWhenFalseID is the false branch, meaningful only for condition
// steps. Nil links terminate the walk.
type Step struct {
	ID                  uuid.UUID  `json:"id"`
	AccountID           uuid.UUID  `json:"account_id"`
	RuleID              uuid.UUID  `json:"rule_id"`
	Position            int        `json:"position"`
	Kind                StepKind   `json:"kind"`
	DelaySeconds        int        `json:"delay_seconds,omitempty"` // pause steps
	ActionID            *uuid.UUID `json:"action_id,omitempty"`    // action steps
	NextStepID          *uuid.UUID `json:"next_step_id,omitempty"`
	NextStepWhenFalseID *uuid.UUID `json:"next_step_when_false_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Action is one rule action. Its lifecycle is owned by the rule, not by the
// step that references it: removing an action step leaves the action row in
// place until the rule itself is deleted.
type Action struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	RuleID    uuid.UUID  `json:"rule_id"`
	Kind      ActionKind `json:"kind"`
	Position  int        `json:"position"`
	Value     string     `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the action's value against its kind: messaging kinds
// reference a numeric message template id, change_status a known status
// token. A mismatch is a hard ValidationError, never silently coerced.
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionSendEmail, ActionSendEmailToUsers, ActionSendSMSAero, ActionSendSMSC, ActionSendTelegram:
		if !numberValueRe.MatchString(a.Value) {
			return &ValidationError{Field: "value", Message: "messaging action value must be a numeric template id"}
		}
	case ActionChangeStatus:
		if !ValidIncaseStatus(a.Value) {
			return &ValidationError{Field: "value", Message: a.Value + " is not a known status"}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown action kind " + string(a.Kind)}
	}
	return nil
}

// Validate checks rule-level invariants that don't need the step graph:
// the event must be a member of the closed set and the logic operator known.
func (r *Rule) Validate() error {
	if r.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if !ValidEvent(r.Event) {
		return &ValidationError{Field: "event", Message: string(r.Event) + " is not a known event"}
	}
	if r.LogicOperator != LogicAnd && r.LogicOperator != LogicOr {
		return &ValidationError{Field: "logic_operator", Message: "logic operator must be and/or"}
	}
	if r.DelaySeconds < 0 {
		return &ValidationError{Field: "delay_seconds", Message: "delay must be non-negative"}
	}
	return nil
}

// conditionSnapshotEntry is the denormalized form stored on the rule row.
type conditionSnapshotEntry struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	StepID   string `json:"step_id,omitempty"`
}

// RebuildSnapshot regenerates the rule's denormalized conditions JSON from
// the structured rows. Called before every rule persist.
func (r *Rule) RebuildSnapshot(conds []Condition) {
	entries := make([]conditionSnapshotEntry, 0, len(conds))
	for _, c := range conds {
		e := conditionSnapshotEntry{Field: c.Field, Operator: string(c.Operator), Value: c.Value}
		if c.StepID != uuid.Nil {
			e.StepID = c.StepID.String()
		}
		entries = append(entries, e)
	}
	r.ConditionsSnapshot, _ = json.Marshal(entries)
}
