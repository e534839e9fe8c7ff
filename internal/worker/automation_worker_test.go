package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/pkg/distlock"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func testEngine(db *sql.DB) (*automation.Engine, *automation.PGQueue) {
	store := automation.NewStore(db)
	queue := automation.NewPGQueue(db)
	sched := automation.NewScheduler(store, queue)
	return automation.NewEngine(store, sched, nopDispatcher{}, nopRenderer{}, store), queue
}

type nopDispatcher struct{}

func (nopDispatcher) Deliver(ctx context.Context, accountID uuid.UUID, kind automation.ActionKind, client automation.Client, subject, body string) automation.DeliveryResult {
	return automation.DeliveryResult{OK: true}
}

type nopRenderer struct{}

func (nopRenderer) Render(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]interface{}) (string, string, error) {
	return "", "", nil
}

func TestAutomationWorker_New(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	w := NewAutomationWorker(db, queue, engine, nil, 0, 0)

	if w == nil {
		t.Fatal("NewAutomationWorker() returned nil")
	}
	if w.pollInterval != 5*time.Second {
		t.Errorf("pollInterval = %v, want 5s default", w.pollInterval)
	}
	if w.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50 default", w.batchSize)
	}
	if w.workerID == "" {
		t.Error("worker id should be assigned")
	}
}

func TestAutomationWorker_StartStop(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	// Worker registration
	mock.ExpectExec("INSERT INTO automation_workers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := NewAutomationWorker(db, queue, engine, nil, time.Hour, 10)
	w.Start()

	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()
	if !running {
		t.Error("worker should be running after Start()")
	}

	// Double start is a no-op
	w.Start()

	// Worker deregistration
	mock.ExpectExec("UPDATE automation_workers").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w.Stop()

	w.mu.RLock()
	running = w.running
	w.mu.RUnlock()
	if running {
		t.Error("worker should not be running after Stop()")
	}
}

func TestAutomationWorker_ProcessDueJobsSkipsWithoutLock(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// Another replica holds the claim lock.
	holder := distlock.NewRedisLock(client, "automation:claim", time.Minute)
	if ok, _ := holder.Acquire(context.Background()); !ok {
		t.Fatal("test setup: holder should acquire the lock")
	}

	lock := distlock.NewRedisLock(client, "automation:claim", time.Minute)
	w := NewAutomationWorker(db, queue, engine, lock, time.Hour, 10)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	defer w.cancel()

	w.processDueJobs()

	// No claim query may run while the lock is held elsewhere.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("worker touched the queue without the lock: %v", err)
	}
	if w.totalErrors != 0 {
		t.Errorf("totalErrors = %d, want 0 (losing the lock race is not an error)", w.totalErrors)
	}
}

func TestAutomationWorker_TransientFailureReleasesJob(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	job := automation.Job{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		RuleID:       uuid.New(),
		ScheduledFor: time.Now(),
		Status:       automation.JobClaimed,
	}

	// The rule lookup fails before the schedule claim. The job must go back
	// to pending so a later poll retries it instead of losing the walk.
	mock.ExpectQuery("SELECT id, account_id, title").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectExec("UPDATE automation_jobs SET status").
		WithArgs(string(automation.JobPending), job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewAutomationWorker(db, queue, engine, nil, time.Hour, 10)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	defer w.cancel()

	w.processJob(w.ctx, &job)

	if w.totalErrors != 1 {
		t.Errorf("totalErrors = %d, want 1", w.totalErrors)
	}
	if w.totalProcessed != 0 {
		t.Errorf("totalProcessed = %d, want 0", w.totalProcessed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAutomationWorker_BrokenGraphMarksJobFailed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	acct := uuid.New()
	ruleID := uuid.New()
	s1 := uuid.New()
	s2 := uuid.New()
	fireAt := time.Now().Truncate(time.Second)
	now := time.Now()

	job := automation.Job{
		ID:           uuid.New(),
		AccountID:    acct,
		RuleID:       ruleID,
		ScheduledFor: fireAt,
		Status:       automation.JobClaimed,
	}

	mock.ExpectQuery("SELECT id, account_id, title").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "title", "event", "active", "delay_seconds",
			"scheduled_for", "pending_job_id", "logic_operator", "conditions_snapshot",
			"created_at", "updated_at",
		}).AddRow(ruleID, acct, "looped", "incase.created.order", true, 0,
			fireAt, job.ID.String(), string(automation.LogicAnd), []byte("[]"), now, now))
	mock.ExpectQuery("SELECT id, account_id, rule_id, step_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "rule_id", "step_id", "position", "field",
			"operator", "value", "created_at", "updated_at",
		}))
	// Two condition steps linked into a loop on both branches, the shape a
	// concurrent edit can leave underneath a paused walk.
	mock.ExpectQuery("SELECT id, account_id, rule_id, position, kind").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "rule_id", "position", "kind", "delay_seconds",
			"action_id", "next_step_id", "next_step_when_false_id", "created_at", "updated_at",
		}).AddRow(s1, acct, ruleID, 1, string(automation.StepCondition), 0,
			nil, s2.String(), s2.String(), now, now).
			AddRow(s2, acct, ruleID, 2, string(automation.StepCondition), 0,
				nil, s1.String(), s1.String(), now, now))
	mock.ExpectQuery("FROM automation_actions").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "rule_id", "kind", "position", "value", "created_at", "updated_at",
		}))
	mock.ExpectExec("UPDATE automation_rules SET scheduled_for=NULL").
		WithArgs(ruleID, fireAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE automation_jobs SET status").
		WithArgs(string(automation.JobFailed), job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewAutomationWorker(db, queue, engine, nil, time.Hour, 10)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	defer w.cancel()

	w.processJob(w.ctx, &job)

	if w.totalErrors != 1 {
		t.Errorf("totalErrors = %d, want 1", w.totalErrors)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAutomationWorker_ProcessDueJobsEmptyBatch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	engine, queue := testEngine(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, account_id, rule_id, resume_step_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "rule_id", "resume_step_id", "object_type", "object_id",
			"context_snapshot", "scheduled_for", "status", "created_at",
		}))
	mock.ExpectCommit()

	w := NewAutomationWorker(db, queue, engine, nil, time.Hour, 10)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	defer w.cancel()

	w.processDueJobs()

	if got := w.totalProcessed; got != 0 {
		t.Errorf("totalProcessed = %d, want 0 for empty batch", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
