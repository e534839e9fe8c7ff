package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
)

type fakeEmail struct {
	to      [][]string
	subject string
	err     error
}

func (f *fakeEmail) Send(ctx context.Context, to []string, subject, htmlBody string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to = append(f.to, to)
	f.subject = subject
	return "email-1", nil
}

type fakeText struct {
	dest string
	text string
	err  error
}

func (f *fakeText) Send(ctx context.Context, destination, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.dest = destination
	f.text = text
	return "text-1", nil
}

type fakeDirectory struct {
	emails []string
	err    error
}

func (f *fakeDirectory) UserEmails(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	return f.emails, f.err
}

func fullClient() automation.Client {
	return automation.Client{
		ID:       uuid.New(),
		Email:    "anna@example.com",
		Phone:    "+79001234567",
		Telegram: "100500",
	}
}

func TestDispatcherRouting(t *testing.T) {
	ctx := context.Background()
	acct := uuid.New()

	t.Run("send_email uses client email", func(t *testing.T) {
		email := &fakeEmail{}
		d := &Dispatcher{Email: email}
		res := d.Deliver(ctx, acct, automation.ActionSendEmail, fullClient(), "hello", "<p>hi</p>")
		if !res.OK {
			t.Fatalf("Deliver() failed: %s", res.Error)
		}
		if len(email.to) != 1 || email.to[0][0] != "anna@example.com" {
			t.Error("email should go to the client address")
		}
		if res.ProviderID != "email-1" {
			t.Errorf("provider id = %q", res.ProviderID)
		}
	})

	t.Run("send_email_to_users resolves staff via directory", func(t *testing.T) {
		email := &fakeEmail{}
		d := &Dispatcher{Email: email, Users: &fakeDirectory{emails: []string{"a@shop.io", "b@shop.io"}}}
		res := d.Deliver(ctx, acct, automation.ActionSendEmailToUsers, fullClient(), "new case", "body")
		if !res.OK {
			t.Fatalf("Deliver() failed: %s", res.Error)
		}
		if len(email.to) != 1 || len(email.to[0]) != 2 {
			t.Error("both staff emails should receive the message")
		}
	})

	t.Run("sms kinds use phone and the matching gateway", func(t *testing.T) {
		aero, smsc := &fakeText{}, &fakeText{}
		d := &Dispatcher{SMSAero: aero, SMSC: smsc}

		if res := d.Deliver(ctx, acct, automation.ActionSendSMSAero, fullClient(), "", "aero text"); !res.OK {
			t.Fatalf("smsaero failed: %s", res.Error)
		}
		if aero.dest != "+79001234567" || aero.text != "aero text" {
			t.Error("smsaero should get the client phone and body")
		}
		if smsc.dest != "" {
			t.Error("smsc must not be touched by the smsaero kind")
		}

		if res := d.Deliver(ctx, acct, automation.ActionSendSMSC, fullClient(), "", "smsc text"); !res.OK {
			t.Fatalf("smsc failed: %s", res.Error)
		}
		if smsc.dest != "+79001234567" {
			t.Error("smsc should get the client phone")
		}
	})

	t.Run("telegram uses chat id", func(t *testing.T) {
		tg := &fakeText{}
		d := &Dispatcher{Telegram: tg}
		if res := d.Deliver(ctx, acct, automation.ActionSendTelegram, fullClient(), "", "tg"); !res.OK {
			t.Fatalf("telegram failed: %s", res.Error)
		}
		if tg.dest != "100500" {
			t.Error("telegram should target the client chat id")
		}
	})
}

func TestDispatcherFailures(t *testing.T) {
	ctx := context.Background()
	acct := uuid.New()

	tests := []struct {
		name   string
		d      *Dispatcher
		kind   automation.ActionKind
		client automation.Client
		want   string
	}{
		{"missing email", &Dispatcher{Email: &fakeEmail{}}, automation.ActionSendEmail,
			automation.Client{}, "no email"},
		{"missing phone", &Dispatcher{SMSAero: &fakeText{}}, automation.ActionSendSMSAero,
			automation.Client{}, "no phone"},
		{"missing telegram chat", &Dispatcher{Telegram: &fakeText{}}, automation.ActionSendTelegram,
			automation.Client{}, "no telegram"},
		{"email provider unconfigured", &Dispatcher{}, automation.ActionSendEmail,
			fullClient(), "not configured"},
		{"smsc provider unconfigured", &Dispatcher{}, automation.ActionSendSMSC,
			fullClient(), "not configured"},
		{"directory unconfigured", &Dispatcher{Email: &fakeEmail{}}, automation.ActionSendEmailToUsers,
			fullClient(), "not configured"},
		{"provider error surfaces", &Dispatcher{Email: &fakeEmail{err: errors.New("ses throttled")}},
			automation.ActionSendEmail, fullClient(), "ses throttled"},
		{"change_status never dispatches", &Dispatcher{}, automation.ActionChangeStatus,
			fullClient(), "no delivery adapter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.d.Deliver(ctx, acct, tt.kind, tt.client, "s", "b")
			if res.OK {
				t.Fatal("expected delivery failure")
			}
			if !strings.Contains(res.Error, tt.want) {
				t.Errorf("error = %q, want substring %q", res.Error, tt.want)
			}
		})
	}
}

func TestDispatcherEmptyDirectory(t *testing.T) {
	d := &Dispatcher{Email: &fakeEmail{}, Users: &fakeDirectory{}}
	res := d.Deliver(context.Background(), uuid.New(), automation.ActionSendEmailToUsers, fullClient(), "s", "b")
	if res.OK {
		t.Fatal("expected failure for an account without users")
	}
	if !strings.Contains(res.Error, "no users") {
		t.Errorf("error = %q", res.Error)
	}
}
