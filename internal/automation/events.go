// Package automation implements the event-condition-action rule engine:
// rules are matched against incoming store events, walked as a small step
// graph (condition / pause / action), and paused walks are resumed later
// through durable scheduled jobs.
package automation

import (
	"time"

	"github.com/google/uuid"
)

// EventName identifies a domain event that can trigger rules.
// The set is closed; rules referencing anything else fail validation.
type EventName string

const (
	EventIncaseCreatedOrder    EventName = "incase.created.order"
	EventIncaseCreatedQuestion EventName = "incase.created.question"
	EventIncaseStatusChanged   EventName = "incase.status_changed"
	EventVariantBackInStock    EventName = "variant.back_in_stock"
	EventMessageSent           EventName = "message.sent"
	EventMessageFailed         EventName = "message.failed"
)

// EventNames lists every valid trigger event in declaration order.
var EventNames = []EventName{
	EventIncaseCreatedOrder,
	EventIncaseCreatedQuestion,
	EventIncaseStatusChanged,
	EventVariantBackInStock,
	EventMessageSent,
	EventMessageFailed,
}

// ValidEvent reports whether name is a member of the closed event set.
func ValidEvent(name EventName) bool {
	for _, e := range EventNames {
		if e == name {
			return true
		}
	}
	return false
}

// IncaseStatus tokens an incase can move through. change_status actions
// and incase.status conditions validate against this set.
var IncaseStatuses = []string{"new", "in_progress", "done", "closed"}

// ValidIncaseStatus reports whether s is a known incase status token.
func ValidIncaseStatus(s string) bool {
	for _, v := range IncaseStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Incase is a support case (order inquiry, question) raised by a client.
type Incase struct {
	ID       uuid.UUID `json:"id"`
	ClientID uuid.UUID `json:"client_id"`
	Status   string    `json:"status"`
	Channel  string    `json:"channel"` // web_form, email, phone
	OrderSum int64     `json:"order_sum"`
}

// Client is the store customer an incase belongs to.
type Client struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Telegram string    `json:"telegram"`
}

// Variant is a product variant (used by back-in-stock triggers).
type Variant struct {
	ID       uuid.UUID `json:"id"`
	SKU      string    `json:"sku"`
	Quantity int64     `json:"quantity"`
}

// MessageRef carries the delivery outcome fields of an automation message
// when a message.sent / message.failed event re-enters the engine.
type MessageRef struct {
	ID      uuid.UUID `json:"id"`
	Channel string    `json:"channel"`
	Status  string    `json:"status"`
}

// EvalContext is the closed evaluation context a condition resolves field
// paths against. Exactly the objects relevant to the triggering event are
// set; absent objects make their fields unresolvable (conditions on them
// evaluate false rather than erroring).
type EvalContext struct {
	Incase  *Incase     `json:"incase,omitempty"`
	Client  *Client     `json:"client,omitempty"`
	Variant *Variant    `json:"variant,omitempty"`
	Message *MessageRef `json:"message,omitempty"`
}

// Event is a domain event emitted by store lifecycle hooks.
type Event struct {
	AccountID  uuid.UUID   `json:"account_id"`
	Name       EventName   `json:"name"`
	ObjectType string      `json:"object_type"` // incase, variant, message
	ObjectID   uuid.UUID   `json:"object_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Context    EvalContext `json:"context"`
}
