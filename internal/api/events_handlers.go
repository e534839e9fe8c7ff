package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/pkg/httputil"
	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// =============================================================================
// EVENT INGESTION
// =============================================================================

type eventRequest struct {
	Name       automation.EventName   `json:"name"`
	ObjectType string                 `json:"object_type"`
	ObjectID   uuid.UUID              `json:"object_id"`
	Context    automation.EvalContext `json:"context"`
}

// HandleEmitEvent ingests a domain event and runs matching rules
// synchronously. Pauses inside the walks come back through the job queue.
// POST /api/v1/accounts/{accountID}/events
func (h *Handlers) HandleEmitEvent(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !automation.ValidEvent(req.Name) {
		httputil.Unprocessable(w, "unknown event name "+string(req.Name))
		return
	}

	ev := automation.Event{
		AccountID:  acct,
		Name:       req.Name,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		OccurredAt: time.Now().UTC(),
		Context:    req.Context,
	}
	if err := h.engine.Trigger(r.Context(), ev); err != nil {
		logger.Error("event trigger failed",
			"account_id", acct.String(), "event", string(req.Name), "error", err.Error())
		httputil.Internal(w)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// =============================================================================
// MESSAGE AUDIT TRAIL
// =============================================================================

// HandleListMessages returns the account's recent automation messages.
// GET /api/v1/accounts/{accountID}/messages?limit=100
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	msgs, err := h.store.ListMessages(r.Context(), acct, limit)
	if err != nil {
		logger.Error("list messages failed", "account_id", acct.String(), "error", err.Error())
		httputil.Internal(w)
		return
	}
	if msgs == nil {
		msgs = []automation.Message{}
	}
	httputil.OK(w, map[string]any{"messages": msgs, "total": len(msgs)})
}

// HandleGetMessage returns one automation message.
// GET /api/v1/accounts/{accountID}/messages/{messageID}
func (h *Handlers) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	msgID, ok := urlUUID(r, "messageID")
	if !ok {
		httputil.BadRequest(w, "invalid message id")
		return
	}

	msg, err := h.store.GetMessage(r.Context(), acct, msgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, msg)
}

type trackRequest struct {
	Status automation.MessageStatus `json:"status"`
}

// HandleTrackMessage applies a provider webhook status to a message
// (delivered, opened, clicked, bounced, unsubscribed). Post-dispatch
// tracking never fires secondary events; only the dispatch-time sent and
// failed transitions do, and those happen inside the engine.
// POST /api/v1/accounts/{accountID}/messages/{messageID}/track
func (h *Handlers) HandleTrackMessage(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	msgID, ok := urlUUID(r, "messageID")
	if !ok {
		httputil.BadRequest(w, "invalid message id")
		return
	}
	var req trackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.store.GetMessage(r.Context(), acct, msgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.engine.TrackMessage(r.Context(), msg, req.Status); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, msg)
}
