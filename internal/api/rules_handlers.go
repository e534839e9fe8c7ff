package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/pkg/httputil"
	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// =============================================================================
// RULE CRUD
// =============================================================================

type ruleRequest struct {
	Title         string                   `json:"title"`
	Event         automation.EventName     `json:"event"`
	Active        bool                     `json:"active"`
	DelaySeconds  int                      `json:"delay_seconds"`
	LogicOperator automation.LogicOperator `json:"logic_operator"`
	Conditions    []ruleConditionRequest   `json:"conditions"`
}

type ruleConditionRequest struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// HandleListRules returns all rules of the account.
// GET /api/v1/accounts/{accountID}/rules
func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}

	rules, err := h.store.ListRules(r.Context(), acct)
	if err != nil {
		logger.Error("list rules failed", "account_id", acct.String(), "error", err.Error())
		httputil.Internal(w)
		return
	}
	if rules == nil {
		rules = []automation.Rule{}
	}
	httputil.OK(w, map[string]any{"rules": rules, "total": len(rules)})
}

// HandleCreateRule creates a rule with its rule-level conditions. Steps and
// actions are added afterwards through their own endpoints.
// POST /api/v1/accounts/{accountID}/rules
func (h *Handlers) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := &automation.Rule{
		ID:            uuid.New(),
		AccountID:     acct,
		Title:         req.Title,
		Event:         req.Event,
		Active:        req.Active,
		DelaySeconds:  req.DelaySeconds,
		LogicOperator: req.LogicOperator,
	}
	if rule.LogicOperator == "" {
		rule.LogicOperator = automation.LogicAnd
	}
	if err := rule.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	conds, err := buildConditions(acct, rule.ID, uuid.Nil, req.Conditions)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rule.RebuildSnapshot(conds)

	if err := h.store.CreateRule(r.Context(), rule, conds, nil, nil); err != nil {
		if automation.IsValidation(err) || automation.IsConfig(err) {
			writeDomainError(w, err)
			return
		}
		logger.Error("create rule failed", "account_id", acct.String(), "error", err.Error())
		httputil.Internal(w)
		return
	}
	httputil.Created(w, rule)
}

// HandleGetRule returns one rule with its full graph.
// GET /api/v1/accounts/{accountID}/rules/{ruleID}
func (h *Handlers) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}

	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, rs)
}

// HandleUpdateRule updates rule fields and replaces rule-level conditions.
// PUT /api/v1/accounts/{accountID}/rules/{ruleID}
func (h *Handlers) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.store.GetRule(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rule.Title = req.Title
	rule.Event = req.Event
	rule.DelaySeconds = req.DelaySeconds
	if req.LogicOperator != "" {
		rule.LogicOperator = req.LogicOperator
	}
	if err := rule.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	conds, err := buildConditions(acct, rule.ID, uuid.Nil, req.Conditions)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rule.RebuildSnapshot(conds)

	if err := h.store.UpdateRule(r.Context(), rule, conds); err != nil {
		if automation.IsValidation(err) || errors.Is(err, automation.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		logger.Error("update rule failed", "rule_id", ruleID.String(), "error", err.Error())
		httputil.Internal(w)
		return
	}
	httputil.OK(w, rule)
}

// HandleDeleteRule deletes a rule and its whole graph, cancelling any
// pending scheduled job first so the pause never fires against a gone rule.
// DELETE /api/v1/accounts/{accountID}/rules/{ruleID}
func (h *Handlers) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}

	rule, err := h.store.GetRule(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rule.ScheduledFor != nil {
		if err := h.sched.Cancel(r.Context(), rule); err != nil {
			logger.Warn("cancel schedule on delete failed",
				"rule_id", ruleID.String(), "error", err.Error())
		}
	}

	if err := h.store.DeleteRule(r.Context(), acct, ruleID); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleSetRuleActive activates or deactivates a rule. Deactivation also
// cancels any pending scheduled job so the pause never fires.
// POST /api/v1/accounts/{accountID}/rules/{ruleID}/activate
// POST /api/v1/accounts/{accountID}/rules/{ruleID}/deactivate
func (h *Handlers) HandleSetRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := accountID(r)
		if !ok {
			httputil.BadRequest(w, "invalid account id")
			return
		}
		ruleID, ok := urlUUID(r, "ruleID")
		if !ok {
			httputil.BadRequest(w, "invalid rule id")
			return
		}

		rule, err := h.store.GetRule(r.Context(), acct, ruleID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if err := h.store.SetActive(r.Context(), acct, ruleID, active); err != nil {
			writeDomainError(w, err)
			return
		}
		rule.Active = active

		if !active && rule.ScheduledFor != nil {
			if err := h.sched.Cancel(r.Context(), rule); err != nil {
				logger.Warn("cancel schedule on deactivate failed",
					"rule_id", ruleID.String(), "error", err.Error())
			}
		}
		httputil.OK(w, rule)
	}
}

func buildConditions(acct, ruleID, stepID uuid.UUID, reqs []ruleConditionRequest) ([]automation.Condition, error) {
	conds := make([]automation.Condition, 0, len(reqs))
	for i, cr := range reqs {
		c := automation.Condition{
			ID:        uuid.New(),
			AccountID: acct,
			RuleID:    ruleID,
			StepID:    stepID,
			Position:  i + 1,
		}
		if err := c.SetField(cr.Field); err != nil {
			return nil, err
		}
		// The field's defaults stand in when the requested pair is illegal
		// for the field's type.
		if cr.Operator != "" && automation.LegalOperator(cr.Field, automation.Operator(cr.Operator)) {
			c.Operator = automation.Operator(cr.Operator)
			c.Value = cr.Value
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// =============================================================================
// STEP GRAPH
// =============================================================================

type insertStepRequest struct {
	Kind         automation.StepKind    `json:"kind"`
	DelaySeconds int                    `json:"delay_seconds"`
	ActionID     *uuid.UUID             `json:"action_id"`
	AfterStepID  *uuid.UUID             `json:"after_step_id"`
	Branch       automation.Branch      `json:"branch"`
	Conditions   []ruleConditionRequest `json:"conditions"`
}

// HandleInsertStep splices a new step into the rule graph.
// POST /api/v1/accounts/{accountID}/rules/{ruleID}/steps
func (h *Handlers) HandleInsertStep(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}
	var req insertStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	step := automation.Step{
		ID:           uuid.New(),
		AccountID:    acct,
		RuleID:       ruleID,
		Kind:         req.Kind,
		DelaySeconds: req.DelaySeconds,
		ActionID:     req.ActionID,
	}

	afterID := uuid.Nil
	if req.AfterStepID != nil {
		afterID = *req.AfterStepID
	}
	branch := req.Branch
	if branch == "" {
		branch = automation.BranchTrue
	}

	steps, err := automation.InsertStep(rs.Steps, step, afterID, branch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.ReplaceSteps(r.Context(), acct, ruleID, steps); err != nil {
		writeDomainError(w, err)
		return
	}

	if step.Kind == automation.StepCondition && len(req.Conditions) > 0 {
		conds, err := buildConditions(acct, ruleID, step.ID, req.Conditions)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for i := range conds {
			if err := h.store.SaveCondition(r.Context(), &conds[i]); err != nil {
				logger.Error("save step condition failed",
					"step_id", step.ID.String(), "error", err.Error())
				httputil.Internal(w)
				return
			}
		}
	}

	httputil.Created(w, step)
}

type updateStepRequest struct {
	DelaySeconds int `json:"delay_seconds"`
}

// HandleUpdateStep changes a pause step's delay. When the rule's pending
// job is the one waiting on this pause, the job is rescheduled so the edit
// takes effect on the in-flight walk too.
// PUT /api/v1/accounts/{accountID}/rules/{ruleID}/steps/{stepID}
func (h *Handlers) HandleUpdateStep(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}
	stepID, ok := urlUUID(r, "stepID")
	if !ok {
		httputil.BadRequest(w, "invalid step id")
		return
	}
	var req updateStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DelaySeconds <= 0 {
		httputil.Unprocessable(w, "delay_seconds must be positive")
		return
	}

	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	step := automation.StepByID(rs.Steps, stepID)
	if step == nil {
		httputil.NotFound(w, "step not found")
		return
	}
	if step.Kind != automation.StepPause {
		httputil.Unprocessable(w, "only pause steps carry a delay")
		return
	}

	step.DelaySeconds = req.DelaySeconds
	if err := h.store.ReplaceSteps(r.Context(), acct, ruleID, rs.Steps); err != nil {
		writeDomainError(w, err)
		return
	}

	h.rescheduleAfterDelayEdit(r, rs, step)
	httputil.OK(w, step)
}

// rescheduleAfterDelayEdit moves the rule's pending job when it was
// produced by the edited pause step. The new fire time is recomputed from
// the job's enqueue time. Best effort: on any failure the old schedule
// stands and the staleness check governs.
func (h *Handlers) rescheduleAfterDelayEdit(r *http.Request, rs *automation.RuleSet, pause *automation.Step) {
	rule := &rs.Rule
	if rule.PendingJobID == nil || rule.ScheduledFor == nil || pause.NextStepID == nil {
		return
	}
	job, err := h.queue.Get(r.Context(), *rule.PendingJobID)
	if err != nil {
		logger.Warn("load pending job failed",
			"rule_id", rule.ID.String(), "error", err.Error())
		return
	}
	if job.ResumeStepID == nil || *job.ResumeStepID != *pause.NextStepID {
		// The pending job waits on a different pause of this rule.
		return
	}

	fireAt := job.CreatedAt.Add(time.Duration(pause.DelaySeconds) * time.Second)
	if now := time.Now(); fireAt.Before(now) {
		fireAt = now
	}
	fresh := &automation.Job{
		ResumeStepID:    job.ResumeStepID,
		ObjectType:      job.ObjectType,
		ObjectID:        job.ObjectID,
		ContextSnapshot: job.ContextSnapshot,
	}
	if _, err := h.sched.Reschedule(r.Context(), rule, fireAt, fresh); err != nil {
		logger.Warn("reschedule after delay edit failed",
			"rule_id", rule.ID.String(), "error", err.Error())
	}
}

// HandleRemoveStep removes a step and nullifies links that pointed at it.
// DELETE /api/v1/accounts/{accountID}/rules/{ruleID}/steps/{stepID}
func (h *Handlers) HandleRemoveStep(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}
	stepID, ok := urlUUID(r, "stepID")
	if !ok {
		httputil.BadRequest(w, "invalid step id")
		return
	}

	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	steps, err := automation.RemoveStep(rs.Steps, stepID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.ReplaceSteps(r.Context(), acct, ruleID, steps); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// =============================================================================
// CONDITIONS AND ACTIONS
// =============================================================================

type conditionUpdateRequest struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// HandleUpdateCondition updates a condition. Changing the field resets the
// operator and value to the field's defaults unless the request carries a
// pair that is legal for the new field.
// PUT /api/v1/accounts/{accountID}/conditions/{conditionID}
func (h *Handlers) HandleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	condID, ok := urlUUID(r, "conditionID")
	if !ok {
		httputil.BadRequest(w, "invalid condition id")
		return
	}
	var req conditionUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cond, err := h.store.GetCondition(r.Context(), acct, condID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Field != "" && req.Field != cond.Field {
		if err := cond.SetField(req.Field); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Operator != "" && automation.LegalOperator(cond.Field, automation.Operator(req.Operator)) {
		cond.Operator = automation.Operator(req.Operator)
		cond.Value = req.Value
	}
	if err := cond.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.store.SaveCondition(r.Context(), cond); err != nil {
		writeDomainError(w, err)
		return
	}
	h.refreshSnapshot(r, acct, cond.RuleID)
	httputil.OK(w, cond)
}

// HandleDeleteCondition removes a condition.
// DELETE /api/v1/accounts/{accountID}/conditions/{conditionID}
func (h *Handlers) HandleDeleteCondition(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	condID, ok := urlUUID(r, "conditionID")
	if !ok {
		httputil.BadRequest(w, "invalid condition id")
		return
	}

	cond, err := h.store.GetCondition(r.Context(), acct, condID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.DeleteCondition(r.Context(), acct, condID); err != nil {
		writeDomainError(w, err)
		return
	}
	h.refreshSnapshot(r, acct, cond.RuleID)
	httputil.NoContent(w)
}

// refreshSnapshot recomputes the rule's denormalized condition snapshot
// after a rule-level condition change. Best effort; the live conditions
// table stays authoritative.
func (h *Handlers) refreshSnapshot(r *http.Request, acct, ruleID uuid.UUID) {
	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		return
	}
	rs.Rule.RebuildSnapshot(rs.RuleConditions)
	if err := h.store.UpdateRule(r.Context(), &rs.Rule, rs.RuleConditions); err != nil {
		logger.Warn("snapshot refresh failed", "rule_id", ruleID.String(), "error", err.Error())
	}
}

type actionRequest struct {
	Kind  automation.ActionKind `json:"kind"`
	Value string                `json:"value"`
}

// HandleCreateAction adds an action to a rule. The action is not reachable
// until an action step references it.
// POST /api/v1/accounts/{accountID}/rules/{ruleID}/actions
func (h *Handlers) HandleCreateAction(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	ruleID, ok := urlUUID(r, "ruleID")
	if !ok {
		httputil.BadRequest(w, "invalid rule id")
		return
	}
	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rs, err := h.store.GetRuleSet(r.Context(), acct, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	action := &automation.Action{
		ID:        uuid.New(),
		AccountID: acct,
		RuleID:    ruleID,
		Kind:      req.Kind,
		Position:  len(rs.Actions) + 1,
		Value:     req.Value,
	}
	if err := action.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.SaveAction(r.Context(), action); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.Created(w, action)
}

// HandleDeleteAction deletes an action, unlinking any steps that reference
// it first.
// DELETE /api/v1/accounts/{accountID}/actions/{actionID}
func (h *Handlers) HandleDeleteAction(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	actionID, ok := urlUUID(r, "actionID")
	if !ok {
		httputil.BadRequest(w, "invalid action id")
		return
	}

	if err := h.store.DeleteAction(r.Context(), acct, actionID); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// =============================================================================
// LEGACY IMPORT
// =============================================================================

// HandleImportFlatRule converts a legacy flat rule (single delay, flat
// condition and action lists) into a step graph and stores it.
// POST /api/v1/accounts/{accountID}/rules/import
func (h *Handlers) HandleImportFlatRule(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(r)
	if !ok {
		httputil.BadRequest(w, "invalid account id")
		return
	}
	var fr automation.FlatRule
	if !decodeJSON(w, r, &fr) {
		return
	}

	rule, steps, conds, actions, err := automation.ImportFlatRule(acct, fr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.CreateRule(r.Context(), rule, conds, steps, actions); err != nil {
		if automation.IsValidation(err) || automation.IsConfig(err) {
			writeDomainError(w, err)
			return
		}
		logger.Error("import flat rule failed", "account_id", acct.String(), "error", err.Error())
		httputil.Internal(w)
		return
	}
	httputil.Created(w, map[string]any{
		"rule":    rule,
		"steps":   steps,
		"actions": actions,
	})
}

// HandleFieldCatalog lists the condition field registry so clients can
// build rule editors without hardcoding the grammar.
// GET /api/v1/fields
func (h *Handlers) HandleFieldCatalog(w http.ResponseWriter, r *http.Request) {
	type fieldInfo struct {
		Field      string                `json:"field"`
		Type       automation.FieldType  `json:"type"`
		Operators  []automation.Operator `json:"operators"`
		EnumValues []string              `json:"enum_values,omitempty"`
	}
	out := make([]fieldInfo, 0, len(automation.Fields))
	for name, spec := range automation.Fields {
		out = append(out, fieldInfo{
			Field:      name,
			Type:       spec.Type,
			Operators:  spec.Operators(),
			EnumValues: spec.EnumValues,
		})
	}
	httputil.OK(w, map[string]any{"fields": out})
}
