// Package api exposes the HTTP surface of the automation engine: rule and
// step-graph management, event ingestion, and the message audit trail.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/pkg/httputil"
)

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	store  *automation.Store
	queue  *automation.PGQueue
	engine *automation.Engine
	sched  *automation.Scheduler
}

// NewHandlers creates the handler set.
func NewHandlers(db *sql.DB, store *automation.Store, queue *automation.PGQueue, engine *automation.Engine, sched *automation.Scheduler) *Handlers {
	return &Handlers{db: db, store: store, queue: queue, engine: engine, sched: sched}
}

// HealthCheck reports service and database health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.db.PingContext(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// accountID extracts and parses the {accountID} URL parameter. Every
// tenant-scoped route carries the account explicitly in its path.
func accountID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	return id, err == nil
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain errors onto HTTP statuses: validation and
// configuration problems are client errors, missing rows are 404s.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrNotFound):
		httputil.NotFound(w, "not found")
	case automation.IsValidation(err) || automation.IsConfig(err):
		httputil.Unprocessable(w, err.Error())
	default:
		httputil.Internal(w)
	}
}
