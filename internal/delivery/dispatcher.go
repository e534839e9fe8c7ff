// Package delivery contains the channel adapters that carry rendered
// automation messages to clients: email via AWS SES, SMS via the SMS Aero
// and SMSC gateways, and Telegram via the bot API.
package delivery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
)

// EmailSender sends an email to one or more recipients.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) (providerID string, err error)
}

// TextSender sends a plain-text message to a single destination (phone
// number or chat id, depending on the channel).
type TextSender interface {
	Send(ctx context.Context, destination, text string) (providerID string, err error)
}

// UserDirectory resolves the notification emails of an account's staff
// users, for the send_email_to_users action.
type UserDirectory interface {
	UserEmails(ctx context.Context, accountID uuid.UUID) ([]string, error)
}

// Dispatcher routes each action kind to its provider adapter. Unconfigured
// channels fail the delivery rather than panicking, so a rule misconfigured
// against a disabled provider produces a failed AutomationMessage.
type Dispatcher struct {
	Email    EmailSender
	SMSAero  TextSender
	SMSC     TextSender
	Telegram TextSender
	Users    UserDirectory
}

// Deliver implements automation.Dispatcher.
func (d *Dispatcher) Deliver(ctx context.Context, accountID uuid.UUID, kind automation.ActionKind, client automation.Client, subject, body string) automation.DeliveryResult {
	switch kind {
	case automation.ActionSendEmail:
		if client.Email == "" {
			return failure("client has no email address")
		}
		return d.sendEmail(ctx, []string{client.Email}, subject, body)

	case automation.ActionSendEmailToUsers:
		if d.Users == nil {
			return failure("user directory not configured")
		}
		emails, err := d.Users.UserEmails(ctx, accountID)
		if err != nil {
			return failure(fmt.Sprintf("resolve account users: %v", err))
		}
		if len(emails) == 0 {
			return failure("account has no users to notify")
		}
		return d.sendEmail(ctx, emails, subject, body)

	case automation.ActionSendSMSAero:
		return d.sendText(ctx, d.SMSAero, "smsaero", client.Phone, body)

	case automation.ActionSendSMSC:
		return d.sendText(ctx, d.SMSC, "smsc", client.Phone, body)

	case automation.ActionSendTelegram:
		if d.Telegram == nil {
			return failure("telegram provider not configured")
		}
		if client.Telegram == "" {
			return failure("client has no telegram chat")
		}
		id, err := d.Telegram.Send(ctx, client.Telegram, body)
		if err != nil {
			return failure(err.Error())
		}
		return success(id)
	}

	return failure(fmt.Sprintf("no delivery adapter for action kind %q", kind))
}

func (d *Dispatcher) sendEmail(ctx context.Context, to []string, subject, body string) automation.DeliveryResult {
	if d.Email == nil {
		return failure("email provider not configured")
	}
	id, err := d.Email.Send(ctx, to, subject, body)
	if err != nil {
		return failure(err.Error())
	}
	return success(id)
}

func (d *Dispatcher) sendText(ctx context.Context, sender TextSender, name, phone, text string) automation.DeliveryResult {
	if sender == nil {
		return failure(name + " provider not configured")
	}
	if phone == "" {
		return failure("client has no phone number")
	}
	id, err := sender.Send(ctx, phone, text)
	if err != nil {
		return failure(err.Error())
	}
	return success(id)
}

func success(providerID string) automation.DeliveryResult {
	return automation.DeliveryResult{OK: true, ProviderID: providerID}
}

func failure(msg string) automation.DeliveryResult {
	return automation.DeliveryResult{OK: false, Error: msg}
}

// PGUserDirectory reads account user emails from the users table.
type PGUserDirectory struct {
	db *sql.DB
}

// NewPGUserDirectory creates a directory over the given database handle.
func NewPGUserDirectory(db *sql.DB) *PGUserDirectory {
	return &PGUserDirectory{db: db}
}

// UserEmails returns the emails of all active users of the account.
func (d *PGUserDirectory) UserEmails(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT email FROM users WHERE account_id = $1 AND active ORDER BY email`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account users: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
