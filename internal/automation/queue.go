package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGQueue is the Postgres-backed job queue: a durable automation_jobs table
// polled by the worker. The queue promises only that a job never fires
// before its scheduled time and that cancellation is best-effort — exactly
// the external-queue contract the scheduler assumes. De-duplication after
// re-delivery belongs to the staleness check, not to this table.
type PGQueue struct {
	db *sql.DB
}

// NewPGQueue creates a queue over the given database handle.
func NewPGQueue(db *sql.DB) *PGQueue {
	return &PGQueue{db: db}
}

// Enqueue persists a pending job row.
func (q *PGQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	var resumeStep interface{}
	if job.ResumeStepID != nil {
		resumeStep = *job.ResumeStepID
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO automation_jobs
		(id, account_id, rule_id, resume_step_id, object_type, object_id, context_snapshot, scheduled_for, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')`,
		job.ID, job.AccountID, job.RuleID, resumeStep, job.ObjectType, job.ObjectID,
		[]byte(job.ContextSnapshot), job.ScheduledFor)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Get fetches one job row by id.
func (q *PGQueue) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var j Job
	var resumeStep sql.NullString
	var snapshot []byte
	err := q.db.QueryRowContext(ctx, `
		SELECT id, account_id, rule_id, resume_step_id, object_type, object_id,
		       context_snapshot, scheduled_for, status, created_at
		FROM automation_jobs WHERE id=$1`, jobID).
		Scan(&j.ID, &j.AccountID, &j.RuleID, &resumeStep, &j.ObjectType,
			&j.ObjectID, &snapshot, &j.ScheduledFor, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.ResumeStepID = parseNullUUID(resumeStep)
	j.ContextSnapshot = snapshot
	return &j, nil
}

// Cancel marks a not-yet-claimed job canceled. Returns false when the job
// was already claimed, finished or removed — the caller falls back on the
// staleness check in that case.
func (q *PGQueue) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE automation_jobs SET status='canceled', updated_at=NOW() WHERE id=$1 AND status='pending'`,
		jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimDue atomically claims up to limit due jobs using row locks with
// SKIP LOCKED, so concurrent worker replicas never double-claim.
func (q *PGQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, account_id, rule_id, resume_step_id, object_type, object_id,
		       context_snapshot, scheduled_for, status, created_at
		FROM automation_jobs
		WHERE status='pending' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	var jobs []Job
	var ids []uuid.UUID
	for rows.Next() {
		var j Job
		var resumeStep sql.NullString
		var snapshot []byte
		if err := rows.Scan(&j.ID, &j.AccountID, &j.RuleID, &resumeStep, &j.ObjectType,
			&j.ObjectID, &snapshot, &j.ScheduledFor, &j.Status, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.ResumeStepID = parseNullUUID(resumeStep)
		j.ContextSnapshot = snapshot
		jobs = append(jobs, j)
		ids = append(ids, j.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE automation_jobs SET status='claimed', updated_at=NOW() WHERE id=$1`, id); err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	for i := range jobs {
		jobs[i].Status = JobClaimed
	}
	return jobs, nil
}

// Finish records the job's terminal status after the engine processed it.
func (q *PGQueue) Finish(ctx context.Context, jobID uuid.UUID, status JobStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE automation_jobs SET status=$1, updated_at=NOW() WHERE id=$2`, status, jobID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}
