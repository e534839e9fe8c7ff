package automation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// DeliveryResult is the boolean-plus-error contract delivery adapters
// report back with. The engine records it on the message audit row and
// moves on either way.
type DeliveryResult struct {
	OK         bool
	ProviderID string
	Error      string
}

// Dispatcher delivers a rendered message over the channel implied by the
// action kind. Implementations live in internal/delivery; the engine knows
// nothing about provider protocols.
type Dispatcher interface {
	Deliver(ctx context.Context, accountID uuid.UUID, kind ActionKind, client Client, subject, body string) DeliveryResult
}

// Renderer resolves a message template id and renders subject/body against
// the event context. Treated as an opaque text-substitution black box.
type Renderer interface {
	Render(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]interface{}) (subject, body string, err error)
}

// StatusMutator applies change_status actions against the external
// persistence layer.
type StatusMutator interface {
	SetStatus(ctx context.Context, accountID, incaseID uuid.UUID, status string) error
}

// EngineStore is the slice of the store the engine reads and writes while
// walking rules. *Store implements it.
type EngineStore interface {
	ScheduleStore
	ActiveRuleSets(ctx context.Context, accountID uuid.UUID, event EventName) ([]RuleSet, error)
	GetRuleSet(ctx context.Context, accountID, ruleID uuid.UUID) (*RuleSet, error)
	CreateMessage(ctx context.Context, m *Message) error
	TransitionMessage(ctx context.Context, id uuid.UUID, from, to MessageStatus, errMsg string) (bool, error)
}

// Engine walks matched rules through their step graphs. It holds no walk
// state across a pause: a pause step externalizes the walk as a scheduled
// job and the worker re-enters through Resume in a fresh invocation.
type Engine struct {
	store      EngineStore
	sched      *Scheduler
	dispatcher Dispatcher
	renderer   Renderer
	status     StatusMutator

	// deliverTimeout bounds a single adapter call so a slow provider can't
	// stall the walk; timeout counts as delivery failure.
	deliverTimeout time.Duration

	now func() time.Time
}

// NewEngine wires the engine to its collaborators.
func NewEngine(store EngineStore, sched *Scheduler, dispatcher Dispatcher, renderer Renderer, status StatusMutator) *Engine {
	return &Engine{
		store:          store,
		sched:          sched,
		dispatcher:     dispatcher,
		renderer:       renderer,
		status:         status,
		deliverTimeout: 15 * time.Second,
		now:            time.Now,
	}
}

// SetDeliverTimeout overrides the per-delivery timeout.
func (e *Engine) SetDeliverTimeout(d time.Duration) { e.deliverTimeout = d }

// Trigger is the event entry point: it matches active rules for the event
// and walks each match independently. One rule's failure never affects
// another; errors are contained and logged per walk.
func (e *Engine) Trigger(ctx context.Context, ev Event) error {
	candidates, err := e.store.ActiveRuleSets(ctx, ev.AccountID, ev.Name)
	if err != nil {
		return err
	}
	for _, rs := range Match(ev.Name, candidates, ev.Context) {
		rs := rs
		start := FirstStep(rs.Steps)
		if start == nil {
			// A rule with no steps has nothing to execute. Flat legacy rules
			// are converted to step graphs at import; see legacy.go.
			logger.Warn("rule has no steps, skipping", "rule_id", rs.Rule.ID.String())
			continue
		}
		if err := e.walk(ctx, &rs, start, ev); err != nil {
			logger.Error("rule walk failed",
				"rule_id", rs.Rule.ID.String(),
				"event", string(ev.Name),
				"object_id", ev.ObjectID.String(),
				"error", err.Error())
		}
	}
	return nil
}

// Resume is the scheduled-job entry point. Deleted rules and steps are
// discards, not crashes; a stale job (the rule was edited or re-run after
// this job was enqueued) returns ErrStale so the queue can record the
// outcome, and nothing fires.
func (e *Engine) Resume(ctx context.Context, job *Job) error {
	rs, err := e.store.GetRuleSet(ctx, job.AccountID, job.RuleID)
	if errors.Is(err, ErrNotFound) {
		logger.Info("discarding job for deleted rule",
			"rule_id", job.RuleID.String(), "job_id", job.ID.String())
		return nil
	}
	if err != nil {
		return err
	}

	if rs.Rule.ScheduledFor == nil || !rs.Rule.ScheduledFor.Equal(job.ScheduledFor) {
		logger.Debug("discarding stale job",
			"rule_id", job.RuleID.String(), "job_id", job.ID.String())
		return ErrStale
	}

	// Claim the schedule atomically; losing the race means another firing
	// (or an edit) got here first and this job is stale after all.
	ok, err := e.store.ClearScheduleIf(ctx, job.RuleID, job.ScheduledFor)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("schedule already claimed, discarding job", "job_id", job.ID.String())
		return ErrStale
	}
	rs.Rule.ScheduledFor = nil
	rs.Rule.PendingJobID = nil

	if !rs.Rule.Active {
		logger.Info("discarding job for deactivated rule", "rule_id", job.RuleID.String())
		return nil
	}

	evalCtx, err := job.DecodeContext()
	if err != nil {
		logger.Error("discarding job with undecodable context",
			"job_id", job.ID.String(), "error", err.Error())
		return nil
	}

	var start *Step
	if job.ResumeStepID != nil {
		if start = StepByID(rs.Steps, *job.ResumeStepID); start == nil {
			logger.Info("discarding job, resume step was deleted",
				"rule_id", job.RuleID.String(), "step_id", job.ResumeStepID.String())
			return nil
		}
	} else if start = FirstStep(rs.Steps); start == nil {
		return nil
	}

	ev := Event{
		AccountID:  job.AccountID,
		Name:       rs.Rule.Event,
		ObjectType: job.ObjectType,
		ObjectID:   job.ObjectID,
		OccurredAt: e.now(),
		Context:    evalCtx,
	}
	return e.walk(ctx, rs, start, ev)
}

// walk executes the step graph from start. Steps run in strict link order;
// the only suspension point is a pause step, which hands the remainder of
// the walk to the scheduler and returns.
func (e *Engine) walk(ctx context.Context, rs *RuleSet, start *Step, ev Event) error {
	visited := make(map[uuid.UUID]bool, len(rs.Steps))
	cur := start

	for cur != nil {
		if visited[cur.ID] {
			// Operator-created link cycle. Validation rejects these, but the
			// graph may have been edited underneath a paused walk.
			return &ConfigError{RuleID: rs.Rule.ID.String(), Detail: "step " + cur.ID.String() + " revisited, aborting walk"}
		}
		visited[cur.ID] = true

		switch cur.Kind {
		case StepCondition:
			matched, err := EvaluateSet(rs.StepConditions[cur.ID.String()], rs.Rule.LogicOperator, ev.Context)
			if err != nil {
				return err
			}
			if matched {
				cur = followLink(rs.Steps, cur.NextStepID)
			} else {
				cur = followLink(rs.Steps, cur.NextStepWhenFalseID)
			}

		case StepPause:
			next := cur.NextStepID
			if next == nil {
				// Nothing to resume after the wait.
				return nil
			}
			fireAt := e.now().Add(time.Duration(cur.DelaySeconds) * time.Second)
			snapshot, err := json.Marshal(ev.Context)
			if err != nil {
				return err
			}
			job := &Job{
				ResumeStepID:    next,
				ObjectType:      ev.ObjectType,
				ObjectID:        ev.ObjectID,
				ContextSnapshot: snapshot,
			}
			if _, err := e.sched.Schedule(ctx, &rs.Rule, fireAt, job); err != nil {
				if errors.Is(err, ErrScheduleConflict) {
					logger.Info("pause superseded by concurrent edit", "rule_id", rs.Rule.ID.String())
					return nil
				}
				return err
			}
			return nil

		case StepAction:
			e.executeAction(ctx, rs, cur, ev)
			cur = followLink(rs.Steps, cur.NextStepID)

		default:
			return &ConfigError{RuleID: rs.Rule.ID.String(), Detail: "unknown step kind " + string(cur.Kind)}
		}
	}
	return nil
}

// executeAction performs one action step's effect. Failures are recorded
// and logged but never abort the walk: automation is best-effort per step.
func (e *Engine) executeAction(ctx context.Context, rs *RuleSet, step *Step, ev Event) {
	if step.ActionID == nil {
		logger.Error("action step has no action", "rule_id", rs.Rule.ID.String(), "step_id", step.ID.String())
		return
	}
	action, ok := rs.Actions[step.ActionID.String()]
	if !ok {
		logger.Error("action step references missing action",
			"rule_id", rs.Rule.ID.String(), "action_id", step.ActionID.String())
		return
	}

	if action.Kind == ActionChangeStatus {
		if ev.Context.Incase == nil {
			logger.Warn("change_status with no incase in context", "rule_id", rs.Rule.ID.String())
			return
		}
		if err := e.status.SetStatus(ctx, rs.Rule.AccountID, ev.Context.Incase.ID, action.Value); err != nil {
			logger.Error("status change failed",
				"rule_id", rs.Rule.ID.String(),
				"incase_id", ev.Context.Incase.ID.String(),
				"error", err.Error())
			return
		}
		ev.Context.Incase.Status = action.Value
		return
	}

	e.dispatchMessage(ctx, rs, action, ev)
}

// dispatchMessage renders and delivers a messaging action, maintaining the
// AutomationMessage audit row through pending → sent/failed, and emits the
// message's secondary event on that transition.
func (e *Engine) dispatchMessage(ctx context.Context, rs *RuleSet, action Action, ev Event) {
	client := ev.Context.Client
	if client == nil {
		logger.Warn("messaging action with no client in context",
			"rule_id", rs.Rule.ID.String(), "action_id", action.ID.String())
		return
	}

	msg := &Message{
		ID:         uuid.New(),
		AccountID:  rs.Rule.AccountID,
		RuleID:     &rs.Rule.ID,
		ActionID:   &action.ID,
		ClientID:   client.ID,
		ObjectType: ev.ObjectType,
		Channel:    action.Kind.Channel(),
		TemplateID: action.Value,
		Status:     MessagePending,
	}
	if ev.ObjectID != uuid.Nil {
		id := ev.ObjectID
		msg.ObjectID = &id
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		logger.Error("failed to record automation message",
			"rule_id", rs.Rule.ID.String(), "error", err.Error())
		return
	}

	result := e.renderAndDeliver(ctx, rs.Rule.AccountID, action, *client, ev)

	to := MessageSent
	if !result.OK {
		to = MessageFailed
	}
	e.finishMessage(ctx, msg, to, result.Error, ev)
}

func (e *Engine) renderAndDeliver(ctx context.Context, accountID uuid.UUID, action Action, client Client, ev Event) DeliveryResult {
	subject, body, err := e.renderer.Render(ctx, accountID, action.Value, templateData(ev))
	if err != nil {
		return DeliveryResult{OK: false, Error: "render: " + err.Error()}
	}

	dctx, cancel := context.WithTimeout(ctx, e.deliverTimeout)
	defer cancel()
	return e.dispatcher.Deliver(dctx, accountID, action.Kind, client, subject, body)
}

// finishMessage applies the terminal dispatch transition and fires the
// secondary event exactly once — only if our transition won the guarded
// update.
func (e *Engine) finishMessage(ctx context.Context, msg *Message, to MessageStatus, errMsg string, ev Event) {
	moved, err := e.store.TransitionMessage(ctx, msg.ID, MessagePending, to, errMsg)
	if err != nil {
		logger.Error("failed to transition automation message",
			"message_id", msg.ID.String(), "error", err.Error())
		return
	}
	if !moved {
		return
	}
	msg.Status = to
	msg.Error = errMsg

	if to == MessageFailed {
		logger.Warn("delivery failed",
			"message_id", msg.ID.String(), "channel", msg.Channel, "error", errMsg)
	}

	if name, fires := to.SecondaryEvent(); fires {
		secondary := Event{
			AccountID:  msg.AccountID,
			Name:       name,
			ObjectType: "message",
			ObjectID:   msg.ID,
			OccurredAt: e.now(),
			Context:    EvalContext{Message: msg.Ref(), Client: ev.Context.Client},
		}
		if err := e.Trigger(ctx, secondary); err != nil {
			logger.Error("secondary event trigger failed",
				"message_id", msg.ID.String(), "event", string(name), "error", err.Error())
		}
	}
}

// TrackMessage applies a delivery-tracking transition coming from a
// provider webhook (delivered/opened/clicked/bounced/unsubscribed). These
// substates never fire secondary events.
func (e *Engine) TrackMessage(ctx context.Context, msg *Message, to MessageStatus) error {
	if !CanTransition(msg.Status, to) {
		return &ValidationError{Field: "status", Message: string(msg.Status) + " cannot move to " + string(to)}
	}
	moved, err := e.store.TransitionMessage(ctx, msg.ID, msg.Status, to, "")
	if err != nil {
		return err
	}
	if moved {
		msg.Status = to
	}
	return nil
}

func followLink(steps []Step, link *uuid.UUID) *Step {
	if link == nil {
		return nil
	}
	return StepByID(steps, *link)
}

// templateData flattens the event context into the variable map the
// template renderer sees.
func templateData(ev Event) map[string]interface{} {
	data := map[string]interface{}{
		"event": string(ev.Name),
	}
	if ev.Context.Incase != nil {
		data["incase"] = map[string]interface{}{
			"id":        ev.Context.Incase.ID.String(),
			"status":    ev.Context.Incase.Status,
			"channel":   ev.Context.Incase.Channel,
			"order_sum": ev.Context.Incase.OrderSum,
		}
	}
	if ev.Context.Client != nil {
		data["client"] = map[string]interface{}{
			"id":    ev.Context.Client.ID.String(),
			"email": ev.Context.Client.Email,
			"phone": ev.Context.Client.Phone,
		}
	}
	if ev.Context.Variant != nil {
		data["variant"] = map[string]interface{}{
			"id":       ev.Context.Variant.ID.String(),
			"sku":      ev.Context.Variant.SKU,
			"quantity": ev.Context.Variant.Quantity,
		}
	}
	return data
}
