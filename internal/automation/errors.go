package automation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the store when a rule, step or action does not
// exist (or was deleted between scheduling and firing). Resume treats it as
// a discard, never a crash.
var ErrNotFound = errors.New("automation: not found")

// ErrStale marks a fired job whose recorded timestamp no longer matches the
// rule's current schedule. It is a silent no-op signal, not a failure.
var ErrStale = errors.New("automation: stale job")

// ValidationError is an edit-time error: the rule, step, condition or action
// being persisted is malformed. It is surfaced to the editing caller and the
// write is never partially applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigError is an execution-time error: a condition or step graph that
// should have been rejected at validation time slipped through (or was
// mutated underneath us). The affected walk is aborted and logged; other
// rules and events are unaffected.
type ConfigError struct {
	RuleID string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.RuleID == "" {
		return "automation config error: " + e.Detail
	}
	return fmt.Sprintf("automation config error (rule %s): %s", e.RuleID, e.Detail)
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
