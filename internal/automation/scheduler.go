package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// ErrScheduleConflict is returned when a concurrent edit superseded the
// schedule we were about to write. The losing caller simply gives up; the
// winning schedule is the live one.
var ErrScheduleConflict = errors.New("automation: schedule superseded by concurrent edit")

// JobStatus tracks the lifecycle of a scheduled job row.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobClaimed  JobStatus = "claimed"
	JobDone     JobStatus = "done"
	JobCanceled JobStatus = "canceled"
	JobStale    JobStatus = "stale"
	JobFailed   JobStatus = "failed"
)

// Job is a durable deferred-execution record: enough state to resume a
// paused walk in a fresh process. The job id doubles as the opaque handle
// recorded on the rule for cancellation.
type Job struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	RuleID          uuid.UUID       `json:"rule_id"`
	ResumeStepID    *uuid.UUID      `json:"resume_step_id,omitempty"` // nil resumes at the first step
	ObjectType      string          `json:"object_type"`
	ObjectID        uuid.UUID       `json:"object_id"`
	ContextSnapshot json.RawMessage `json:"context_snapshot"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	Status          JobStatus       `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DecodeContext restores the evaluation context captured when the walk
// paused.
func (j *Job) DecodeContext() (EvalContext, error) {
	var ctx EvalContext
	if len(j.ContextSnapshot) == 0 {
		return ctx, nil
	}
	if err := json.Unmarshal(j.ContextSnapshot, &ctx); err != nil {
		return ctx, fmt.Errorf("decode job context: %w", err)
	}
	return ctx, nil
}

// JobQueue is the external queue capability: enqueue a job that will not
// fire before its scheduled time, and best-effort cancellation by handle.
// The Postgres-backed implementation lives in queue.go.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	Cancel(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// ScheduleStore is the slice of the store the scheduler needs: guarded
// updates of the rule's (scheduled_for, pending_job_id) pair.
type ScheduleStore interface {
	// SetScheduleIf records the new schedule only if the rule's current
	// scheduled_for still equals prev (nil = unscheduled). Returns false when
	// a concurrent edit won.
	SetScheduleIf(ctx context.Context, ruleID uuid.UUID, prev *time.Time, fireAt time.Time, jobID uuid.UUID) (bool, error)
	// ClearSchedule unconditionally clears the rule's schedule fields.
	ClearSchedule(ctx context.Context, ruleID uuid.UUID) error
	// ClearScheduleIf clears only if scheduled_for still equals expected.
	// Returns false when the schedule was already superseded or cleared.
	ClearScheduleIf(ctx context.Context, ruleID uuid.UUID, expected time.Time) (bool, error)
}

// Scheduler owns deferred execution for rules: it guarantees at most one
// live pending job per rule, with the fire-time staleness check (not queue
// row deletion) as the authoritative de-duplication mechanism.
type Scheduler struct {
	store ScheduleStore
	queue JobQueue
	now   func() time.Time
}

// NewScheduler creates a scheduler over the given store and queue.
func NewScheduler(store ScheduleStore, queue JobQueue) *Scheduler {
	return &Scheduler{store: store, queue: queue, now: time.Now}
}

// Schedule enqueues exactly one pending job for the rule at fireAt and
// records its identity on the rule. Any previously pending job is canceled
// first (best-effort) and superseded by the guarded schedule update even if
// queue removal fails.
func (s *Scheduler) Schedule(ctx context.Context, rule *Rule, fireAt time.Time, job *Job) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.AccountID = rule.AccountID
	job.RuleID = rule.ID
	job.ScheduledFor = fireAt
	job.Status = JobPending

	if rule.PendingJobID != nil {
		if ok, err := s.queue.Cancel(ctx, *rule.PendingJobID); err != nil {
			logger.Warn("failed to cancel superseded job, relying on staleness check",
				"rule_id", rule.ID.String(), "job_id", rule.PendingJobID.String(), "error", err.Error())
		} else if !ok {
			logger.Debug("superseded job already gone", "job_id", rule.PendingJobID.String())
		}
	}

	ok, err := s.store.SetScheduleIf(ctx, rule.ID, rule.ScheduledFor, fireAt, job.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record schedule: %w", err)
	}
	if !ok {
		return uuid.Nil, ErrScheduleConflict
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// Roll the schedule back so the rule isn't left pointing at a job
		// that never made it into the queue.
		if _, cerr := s.store.ClearScheduleIf(ctx, rule.ID, fireAt); cerr != nil {
			logger.Error("failed to clear schedule after enqueue failure",
				"rule_id", rule.ID.String(), "error", cerr.Error())
		}
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	rule.ScheduledFor = &fireAt
	rule.PendingJobID = &job.ID
	return job.ID, nil
}

// Cancel removes the rule's pending job if one is recorded. Queue removal
// is best-effort; the schedule fields are always cleared so a model update
// is never blocked by queue trouble. A job that survives in the queue is
// discarded by the staleness check at fire time.
func (s *Scheduler) Cancel(ctx context.Context, rule *Rule) error {
	if rule.PendingJobID != nil {
		if ok, err := s.queue.Cancel(ctx, *rule.PendingJobID); err != nil {
			logger.Warn("job queue cancel failed, relying on staleness check",
				"rule_id", rule.ID.String(), "job_id", rule.PendingJobID.String(), "error", err.Error())
		} else if !ok {
			logger.Debug("pending job already gone", "job_id", rule.PendingJobID.String())
		}
	}
	if err := s.store.ClearSchedule(ctx, rule.ID); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	rule.ScheduledFor = nil
	rule.PendingJobID = nil
	return nil
}

// Reschedule cancels any pending job and schedules a fresh one. Used when a
// rule's delay or fire time is edited while a job is pending.
func (s *Scheduler) Reschedule(ctx context.Context, rule *Rule, fireAt time.Time, job *Job) (uuid.UUID, error) {
	if err := s.Cancel(ctx, rule); err != nil {
		return uuid.Nil, err
	}
	return s.Schedule(ctx, rule, fireAt, job)
}
