package automation

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery-tracking state of an automation message.
type MessageStatus string

const (
	MessagePending      MessageStatus = "pending"
	MessageSent         MessageStatus = "sent"
	MessageFailed       MessageStatus = "failed"
	MessageDelivered    MessageStatus = "delivered"
	MessageOpened       MessageStatus = "opened"
	MessageClicked      MessageStatus = "clicked"
	MessageBounced      MessageStatus = "bounced"
	MessageUnsubscribed MessageStatus = "unsubscribed"
)

// messageTransitions is the legal transition table. pending resolves to
// sent or failed; sent moves through provider tracking substates; tracking
// substates may advance further (delivered→opened→clicked, or bounce out).
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessagePending:   {MessageSent, MessageFailed},
	MessageSent:      {MessageDelivered, MessageOpened, MessageClicked, MessageBounced, MessageUnsubscribed},
	MessageDelivered: {MessageOpened, MessageClicked, MessageBounced, MessageUnsubscribed},
	MessageOpened:    {MessageClicked, MessageUnsubscribed},
	MessageClicked:   {MessageUnsubscribed},
}

// CanTransition reports whether from → to is a legal status move.
func CanTransition(from, to MessageStatus) bool {
	for _, next := range messageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SecondaryEvent returns the domain event a transition into this status
// emits, if any. Only sent and failed re-enter the engine, and each fires
// at most once because the transition table never revisits either state —
// that bound is what keeps message-triggered rules from recursing through
// delivery tracking updates.
func (s MessageStatus) SecondaryEvent() (EventName, bool) {
	switch s {
	case MessageSent:
		return EventMessageSent, true
	case MessageFailed:
		return EventMessageFailed, true
	}
	return "", false
}

// Message is the audit/delivery-tracking record created each time a
// messaging action dispatches. It links back to the rule and action that
// produced it, the client it went to, and optionally the business object
// the walk was about.
type Message struct {
	ID         uuid.UUID     `json:"id"`
	AccountID  uuid.UUID     `json:"account_id"`
	RuleID     *uuid.UUID    `json:"rule_id,omitempty"`
	ActionID   *uuid.UUID    `json:"action_id,omitempty"`
	ClientID   uuid.UUID     `json:"client_id"`
	ObjectType string        `json:"object_type,omitempty"`
	ObjectID   *uuid.UUID    `json:"object_id,omitempty"`
	Channel    string        `json:"channel"`
	TemplateID string        `json:"template_id"`
	Status     MessageStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Ref returns the event-context view of the message.
func (m *Message) Ref() *MessageRef {
	return &MessageRef{ID: m.ID, Channel: m.Channel, Status: string(m.Status)}
}
