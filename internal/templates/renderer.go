// Package templates renders message templates with Liquid for dynamic data
// injection into automation messages.
package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/shopdesk/shopdesk/internal/automation"
)

// Template is a stored message template. Subject is used for email only;
// SMS and Telegram deliveries use Body alone.
type Template struct {
	ID        int64
	AccountID uuid.UUID
	Title     string
	Subject   string
	Body      string
}

// Renderer loads templates from the database and renders them with Liquid.
// Parsed templates are cached per (account, template, updated_at) so repeated
// sends don't re-parse.
type Renderer struct {
	db     *sql.DB
	engine *liquid.Engine
	cache  sync.Map // cacheKey -> *parsedTemplate
}

type parsedTemplate struct {
	subject *liquid.Template
	body    *liquid.Template
}

// NewRenderer creates a Renderer with the custom filters registered.
func NewRenderer(db *sql.DB) *Renderer {
	r := &Renderer{
		db:     db,
		engine: liquid.NewEngine(),
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ client.email | default: "customer" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ incase.order_sum | rub }}
	r.engine.RegisterFilter("rub", func(v interface{}) string {
		return fmt.Sprintf("%v ₽", v)
	})

	// {{ incase.status | humanize }}
	r.engine.RegisterFilter("humanize", func(s string) string {
		return strings.ReplaceAll(s, "_", " ")
	})
}

// Render loads the template for the account and renders subject and body
// against data. Action values store template ids as decimal strings; a
// malformed or missing template is a configuration problem surfaced as a
// ConfigError so the engine logs and skips the send.
func (r *Renderer) Render(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]interface{}) (subject, body string, err error) {
	id, err := strconv.ParseInt(templateID, 10, 64)
	if err != nil {
		return "", "", &automation.ConfigError{Detail: fmt.Sprintf("template id %q is not numeric", templateID)}
	}

	tpl, err := r.load(ctx, accountID, id)
	if err != nil {
		return "", "", err
	}

	if tpl.subject != nil {
		out, err := tpl.subject.Render(data)
		if err != nil {
			return "", "", fmt.Errorf("render subject of template %d: %w", id, err)
		}
		subject = string(out)
	}

	out, err := tpl.body.Render(data)
	if err != nil {
		return "", "", fmt.Errorf("render body of template %d: %w", id, err)
	}
	return subject, string(out), nil
}

func (r *Renderer) load(ctx context.Context, accountID uuid.UUID, templateID int64) (*parsedTemplate, error) {
	var t Template
	var updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, title, COALESCE(subject, ''), body, updated_at::text
		FROM message_templates
		WHERE id = $1 AND account_id = $2`,
		templateID, accountID).
		Scan(&t.ID, &t.AccountID, &t.Title, &t.Subject, &t.Body, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &automation.ConfigError{Detail: fmt.Sprintf("message template %d not found", templateID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", templateID, err)
	}

	key := fmt.Sprintf("%s:%d:%s", accountID, templateID, updatedAt)
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*parsedTemplate), nil
	}

	parsed := &parsedTemplate{}
	if t.Subject != "" {
		tmpl, err := r.engine.ParseString(t.Subject)
		if err != nil {
			return nil, &automation.ConfigError{Detail: fmt.Sprintf("template %d subject: %v", templateID, err)}
		}
		parsed.subject = tmpl
	}
	tmpl, err := r.engine.ParseString(t.Body)
	if err != nil {
		return nil, &automation.ConfigError{Detail: fmt.Sprintf("template %d body: %v", templateID, err)}
	}
	parsed.body = tmpl
	r.cache.Store(key, parsed)
	return parsed, nil
}
