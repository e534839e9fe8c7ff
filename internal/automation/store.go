package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles persistence for rules, steps, conditions, actions and
// automation messages. Every query is scoped by an explicit account id;
// there is no ambient tenant state anywhere in the engine.
type Store struct {
	db *sql.DB
}

// NewStore creates a Postgres-backed automation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that share the pool.
func (s *Store) DB() *sql.DB { return s.db }

// =============================================================================
// RULES
// =============================================================================

const ruleColumns = `id, account_id, title, event, active, delay_seconds,
	scheduled_for, pending_job_id, logic_operator, conditions_snapshot, created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	var r Rule
	var scheduledFor sql.NullTime
	var pendingJob sql.NullString
	var snapshot []byte
	err := row.Scan(&r.ID, &r.AccountID, &r.Title, &r.Event, &r.Active, &r.DelaySeconds,
		&scheduledFor, &pendingJob, &r.LogicOperator, &snapshot, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		r.ScheduledFor = &t
	}
	if pendingJob.Valid {
		if id, perr := uuid.Parse(pendingJob.String); perr == nil {
			r.PendingJobID = &id
		}
	}
	r.ConditionsSnapshot = snapshot
	return &r, nil
}

// CreateRule persists a rule together with its full graph in one
// transaction. The whole mutation succeeds or none of it does, so the
// engine never observes a half-written graph.
func (s *Store) CreateRule(ctx context.Context, rule *Rule, conds []Condition, steps []Step, actions []Action) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if len(conds) == 0 {
		return &ValidationError{Field: "conditions", Message: "a rule needs at least one condition"}
	}
	for i := range conds {
		if err := conds[i].Validate(); err != nil {
			return err
		}
	}
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return err
		}
	}
	if err := ValidateGraph(rule.ID, steps); err != nil {
		return err
	}
	rule.RebuildSnapshot(conds)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create rule: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO automation_rules
		(id, account_id, title, event, active, delay_seconds, logic_operator, conditions_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rule.ID, rule.AccountID, rule.Title, rule.Event, rule.Active,
		rule.DelaySeconds, rule.LogicOperator, []byte(rule.ConditionsSnapshot))
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	for i := range actions {
		if err := insertAction(ctx, tx, &actions[i]); err != nil {
			return err
		}
	}
	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}
	for i := range conds {
		if err := insertCondition(ctx, tx, &conds[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create rule: %w", err)
	}
	return nil
}

// UpdateRule updates the rule row and replaces its rule-level conditions,
// rebuilding the denormalized snapshot first. Step-level conditions are
// untouched.
func (s *Store) UpdateRule(ctx context.Context, rule *Rule, conds []Condition) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if len(conds) == 0 {
		return &ValidationError{Field: "conditions", Message: "a rule needs at least one condition"}
	}
	for i := range conds {
		if err := conds[i].Validate(); err != nil {
			return err
		}
	}
	rule.RebuildSnapshot(conds)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update rule: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE automation_rules
		SET title=$1, event=$2, active=$3, delay_seconds=$4, logic_operator=$5,
		    conditions_snapshot=$6, updated_at=NOW()
		WHERE id=$7 AND account_id=$8`,
		rule.Title, rule.Event, rule.Active, rule.DelaySeconds, rule.LogicOperator,
		[]byte(rule.ConditionsSnapshot), rule.ID, rule.AccountID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM automation_conditions WHERE rule_id=$1 AND account_id=$2 AND step_id IS NULL`,
		rule.ID, rule.AccountID)
	if err != nil {
		return fmt.Errorf("replace conditions: %w", err)
	}
	for i := range conds {
		if err := insertCondition(ctx, tx, &conds[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update rule: %w", err)
	}
	return nil
}

// GetRule fetches a single rule scoped to the account.
func (s *Store) GetRule(ctx context.Context, accountID, id uuid.UUID) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id=$1 AND account_id=$2`, id, accountID)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// ListRules returns all rules for an account in creation order.
func (s *Store) ListRules(ctx context.Context, accountID uuid.UUID) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE account_id=$1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteRule removes the rule; steps, conditions and actions cascade in the
// schema. Callers cancel the rule's pending job first.
func (s *Store) DeleteRule(ctx context.Context, accountID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_rules WHERE id=$1 AND account_id=$2`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive toggles the rule's active flag.
func (s *Store) SetActive(ctx context.Context, accountID, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET active=$1, updated_at=NOW() WHERE id=$2 AND account_id=$3`,
		active, id, accountID)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// RULE SETS (rule + conditions + steps + actions, as the engine loads them)
// =============================================================================

// ActiveRuleSets loads every active rule for the event in the account,
// with conditions, steps and actions attached, in creation order. Backed by
// the (account_id, event, active) index.
func (s *Store) ActiveRuleSets(ctx context.Context, accountID uuid.UUID, event EventName) ([]RuleSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE account_id=$1 AND event=$2 AND active=TRUE
		ORDER BY created_at, id`, accountID, event)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.attachGraphs(ctx, accountID, rules)
}

// GetRuleSet loads one rule with its full graph.
func (s *Store) GetRuleSet(ctx context.Context, accountID, ruleID uuid.UUID) (*RuleSet, error) {
	r, err := s.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	sets, err := s.attachGraphs(ctx, accountID, []Rule{*r})
	if err != nil {
		return nil, err
	}
	return &sets[0], nil
}

func (s *Store) attachGraphs(ctx context.Context, accountID uuid.UUID, rules []Rule) ([]RuleSet, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rules))
	index := make(map[uuid.UUID]int, len(rules))
	sets := make([]RuleSet, len(rules))
	for i, r := range rules {
		ids[i] = r.ID.String()
		index[r.ID] = i
		sets[i] = RuleSet{
			Rule:           r,
			StepConditions: make(map[string][]Condition),
			Actions:        make(map[string]Action),
		}
	}

	condRows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, rule_id, step_id, position, field, operator, value, created_at, updated_at
		FROM automation_conditions
		WHERE account_id=$1 AND rule_id = ANY($2::uuid[])
		ORDER BY rule_id, position`, accountID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}
	defer condRows.Close()
	for condRows.Next() {
		var c Condition
		var stepID sql.NullString
		if err := condRows.Scan(&c.ID, &c.AccountID, &c.RuleID, &stepID, &c.Position,
			&c.Field, &c.Operator, &c.Value, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		i := index[c.RuleID]
		if stepID.Valid {
			c.StepID, _ = uuid.Parse(stepID.String)
			sets[i].StepConditions[stepID.String] = append(sets[i].StepConditions[stepID.String], c)
		} else {
			sets[i].RuleConditions = append(sets[i].RuleConditions, c)
		}
	}
	if err := condRows.Err(); err != nil {
		return nil, err
	}

	stepRows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, rule_id, position, kind, delay_seconds, action_id,
		       next_step_id, next_step_when_false_id, created_at, updated_at
		FROM automation_steps
		WHERE account_id=$1 AND rule_id = ANY($2::uuid[])
		ORDER BY rule_id, position`, accountID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer stepRows.Close()
	for stepRows.Next() {
		var st Step
		var actionID, next, nextFalse sql.NullString
		if err := stepRows.Scan(&st.ID, &st.AccountID, &st.RuleID, &st.Position, &st.Kind,
			&st.DelaySeconds, &actionID, &next, &nextFalse, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.ActionID = parseNullUUID(actionID)
		st.NextStepID = parseNullUUID(next)
		st.NextStepWhenFalseID = parseNullUUID(nextFalse)
		i := index[st.RuleID]
		sets[i].Steps = append(sets[i].Steps, st)
	}
	if err := stepRows.Err(); err != nil {
		return nil, err
	}

	actionRows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, rule_id, kind, position, value, created_at, updated_at
		FROM automation_actions
		WHERE account_id=$1 AND rule_id = ANY($2::uuid[])
		ORDER BY rule_id, position`, accountID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var a Action
		if err := actionRows.Scan(&a.ID, &a.AccountID, &a.RuleID, &a.Kind, &a.Position,
			&a.Value, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		i := index[a.RuleID]
		sets[i].Actions[a.ID.String()] = a
	}
	return sets, actionRows.Err()
}

// =============================================================================
// STEP GRAPH MUTATIONS
// =============================================================================

// ReplaceSteps writes the rule's whole step graph in one transaction after
// validating link integrity. Insert/remove splices are computed in memory
// (graph.go) and persisted through here, so the engine can never observe a
// dangling next_step.
func (s *Store) ReplaceSteps(ctx context.Context, accountID, ruleID uuid.UUID, steps []Step) error {
	if err := ValidateGraph(ruleID, steps); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace steps: %w", err)
	}
	defer tx.Rollback()

	// Step-level conditions survive when their step survives; delete the
	// ones whose step is going away.
	keep := make([]string, 0, len(steps))
	for i := range steps {
		keep = append(keep, steps[i].ID.String())
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM automation_conditions
		WHERE account_id=$1 AND rule_id=$2 AND step_id IS NOT NULL AND NOT (step_id = ANY($3::uuid[]))`,
		accountID, ruleID, pq.Array(keep))
	if err != nil {
		return fmt.Errorf("prune step conditions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM automation_steps WHERE account_id=$1 AND rule_id=$2`, accountID, ruleID)
	if err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace steps: %w", err)
	}
	return nil
}

// =============================================================================
// CONDITIONS AND ACTIONS
// =============================================================================

// SaveCondition inserts or updates a single condition row after validation.
func (s *Store) SaveCondition(ctx context.Context, c *Condition) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var stepID interface{}
	if c.StepID != uuid.Nil {
		stepID = c.StepID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_conditions (id, account_id, rule_id, step_id, position, field, operator, value)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			position=EXCLUDED.position, field=EXCLUDED.field, operator=EXCLUDED.operator,
			value=EXCLUDED.value, updated_at=NOW()`,
		c.ID, c.AccountID, c.RuleID, stepID, c.Position, c.Field, c.Operator, c.Value)
	if err != nil {
		return fmt.Errorf("save condition: %w", err)
	}
	return nil
}

// GetCondition fetches one condition scoped to the account.
func (s *Store) GetCondition(ctx context.Context, accountID, id uuid.UUID) (*Condition, error) {
	var c Condition
	var stepID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, rule_id, step_id, position, field, operator, value, created_at, updated_at
		FROM automation_conditions WHERE id=$1 AND account_id=$2`, id, accountID).
		Scan(&c.ID, &c.AccountID, &c.RuleID, &stepID, &c.Position, &c.Field, &c.Operator,
			&c.Value, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get condition: %w", err)
	}
	if stepID.Valid {
		c.StepID, _ = uuid.Parse(stepID.String)
	}
	return &c, nil
}

// DeleteCondition removes one condition row.
func (s *Store) DeleteCondition(ctx context.Context, accountID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_conditions WHERE id=$1 AND account_id=$2`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAction inserts or updates an action row after kind validation.
func (s *Store) SaveAction(ctx context.Context, a *Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_actions (id, account_id, rule_id, kind, position, value)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			kind=EXCLUDED.kind, position=EXCLUDED.position, value=EXCLUDED.value, updated_at=NOW()`,
		a.ID, a.AccountID, a.RuleID, a.Kind, a.Position, a.Value)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// DeleteAction removes an action row and nullifies step references to it.
func (s *Store) DeleteAction(ctx context.Context, accountID, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete action: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE automation_steps SET action_id=NULL, updated_at=NOW() WHERE action_id=$1 AND account_id=$2`,
		id, accountID)
	if err != nil {
		return fmt.Errorf("unlink action: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM automation_actions WHERE id=$1 AND account_id=$2`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// =============================================================================
// SCHEDULE (compare-and-swap on scheduled_for)
// =============================================================================

// SetScheduleIf implements the guarded schedule write: it succeeds only if
// the rule's scheduled_for still holds the value the caller read. Losing
// the swap means a concurrent edit superseded this schedule.
func (s *Store) SetScheduleIf(ctx context.Context, ruleID uuid.UUID, prev *time.Time, fireAt time.Time, jobID uuid.UUID) (bool, error) {
	var res sql.Result
	var err error
	if prev == nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE automation_rules SET scheduled_for=$1, pending_job_id=$2, updated_at=NOW()
			WHERE id=$3 AND scheduled_for IS NULL`, fireAt, jobID, ruleID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE automation_rules SET scheduled_for=$1, pending_job_id=$2, updated_at=NOW()
			WHERE id=$3 AND scheduled_for=$4`, fireAt, jobID, ruleID, *prev)
	}
	if err != nil {
		return false, fmt.Errorf("set schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearSchedule unconditionally clears the rule's schedule fields.
func (s *Store) ClearSchedule(ctx context.Context, ruleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET scheduled_for=NULL, pending_job_id=NULL, updated_at=NOW()
		WHERE id=$1`, ruleID)
	if err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	return nil
}

// ClearScheduleIf clears the schedule only if scheduled_for still equals
// expected. The worker uses this as the fire-time claim: at most one run of
// a given schedule wins.
func (s *Store) ClearScheduleIf(ctx context.Context, ruleID uuid.UUID, expected time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET scheduled_for=NULL, pending_job_id=NULL, updated_at=NOW()
		WHERE id=$1 AND scheduled_for=$2`, ruleID, expected)
	if err != nil {
		return false, fmt.Errorf("clear schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// =============================================================================
// AUTOMATION MESSAGES
// =============================================================================

// CreateMessage inserts a message audit row (normally in pending).
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	var objectID interface{}
	if m.ObjectID != nil {
		objectID = *m.ObjectID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_messages
		(id, account_id, rule_id, action_id, client_id, object_type, object_id, channel, template_id, status, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.AccountID, m.RuleID, m.ActionID, m.ClientID, m.ObjectType, objectID,
		m.Channel, m.TemplateID, m.Status, m.Error)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage fetches one message scoped to the account.
func (s *Store) GetMessage(ctx context.Context, accountID, id uuid.UUID) (*Message, error) {
	var m Message
	var ruleID, actionID, objectID sql.NullString
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, rule_id, action_id, client_id, object_type, object_id,
		       channel, template_id, status, COALESCE(error,''), sent_at, created_at, updated_at
		FROM automation_messages WHERE id=$1 AND account_id=$2`, id, accountID).
		Scan(&m.ID, &m.AccountID, &ruleID, &actionID, &m.ClientID, &m.ObjectType, &objectID,
			&m.Channel, &m.TemplateID, &m.Status, &m.Error, &sentAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.RuleID = parseNullUUID(ruleID)
	m.ActionID = parseNullUUID(actionID)
	m.ObjectID = parseNullUUID(objectID)
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return &m, nil
}

// ListMessages returns recent messages for an account, newest first.
func (s *Store) ListMessages(ctx context.Context, accountID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, rule_id, action_id, client_id, object_type, object_id,
		       channel, template_id, status, COALESCE(error,''), sent_at, created_at, updated_at
		FROM automation_messages WHERE account_id=$1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ruleID, actionID, objectID sql.NullString
		var sentAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.AccountID, &ruleID, &actionID, &m.ClientID, &m.ObjectType,
			&objectID, &m.Channel, &m.TemplateID, &m.Status, &m.Error, &sentAt,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.RuleID = parseNullUUID(ruleID)
		m.ActionID = parseNullUUID(actionID)
		m.ObjectID = parseNullUUID(objectID)
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TransitionMessage applies a guarded status move: the update only lands if
// the row is still in the expected source status, which is what makes each
// transition (and its secondary event) fire at most once.
func (s *Store) TransitionMessage(ctx context.Context, id uuid.UUID, from, to MessageStatus, errMsg string) (bool, error) {
	if !CanTransition(from, to) {
		return false, &ValidationError{Field: "status", Message: string(from) + " cannot move to " + string(to)}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_messages
		SET status=$1, error=$2, sent_at=CASE WHEN $1='sent' THEN NOW() ELSE sent_at END, updated_at=NOW()
		WHERE id=$3 AND status=$4`, to, errMsg, id, from)
	if err != nil {
		return false, fmt.Errorf("transition message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// =============================================================================
// STATUS MUTATION (change_status collaborator)
// =============================================================================

// SetStatus applies a change_status action against the incases table.
func (s *Store) SetStatus(ctx context.Context, accountID, incaseID uuid.UUID, status string) error {
	if !ValidIncaseStatus(status) {
		return &ValidationError{Field: "status", Message: status + " is not a known status"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE incases SET status=$1, updated_at=NOW() WHERE id=$2 AND account_id=$3`,
		status, incaseID, accountID)
	if err != nil {
		return fmt.Errorf("set incase status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// helpers
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertStep(ctx context.Context, tx execer, st *Step) error {
	var actionID, next, nextFalse interface{}
	if st.ActionID != nil {
		actionID = *st.ActionID
	}
	if st.NextStepID != nil {
		next = *st.NextStepID
	}
	if st.NextStepWhenFalseID != nil {
		nextFalse = *st.NextStepWhenFalseID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO automation_steps
		(id, account_id, rule_id, position, kind, delay_seconds, action_id, next_step_id, next_step_when_false_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		st.ID, st.AccountID, st.RuleID, st.Position, st.Kind, st.DelaySeconds, actionID, next, nextFalse)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func insertCondition(ctx context.Context, tx execer, c *Condition) error {
	var stepID interface{}
	if c.StepID != uuid.Nil {
		stepID = c.StepID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO automation_conditions (id, account_id, rule_id, step_id, position, field, operator, value)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.AccountID, c.RuleID, stepID, c.Position, c.Field, c.Operator, c.Value)
	if err != nil {
		return fmt.Errorf("insert condition: %w", err)
	}
	return nil
}

func insertAction(ctx context.Context, tx execer, a *Action) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO automation_actions (id, account_id, rule_id, kind, position, value)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.AccountID, a.RuleID, a.Kind, a.Position, a.Value)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func parseNullUUID(ns sql.NullString) *uuid.UUID {
	if !ns.Valid {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}
