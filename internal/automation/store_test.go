package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestStoreGetRuleNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery("SELECT .+ FROM automation_rules").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRule(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStoreSetActiveNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectExec("UPDATE automation_rules SET active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetActive(context.Background(), uuid.New(), uuid.New(), true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreSetScheduleIf(t *testing.T) {
	ruleID := uuid.New()
	jobID := uuid.New()
	fireAt := time.Now().Add(time.Hour)

	t.Run("nil prev guards on NULL and wins", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_rules SET scheduled_for").
			WithArgs(fireAt, jobID, ruleID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.SetScheduleIf(context.Background(), ruleID, nil, fireAt, jobID)
		if err != nil || !ok {
			t.Errorf("SetScheduleIf() = %v, %v; want true, nil", ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("nil prev loses when a schedule exists", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_rules SET scheduled_for").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.SetScheduleIf(context.Background(), ruleID, nil, fireAt, jobID)
		if err != nil || ok {
			t.Errorf("SetScheduleIf() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("non-nil prev passes the expected time", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		prev := fireAt.Add(-30 * time.Minute)
		mock.ExpectExec("UPDATE automation_rules SET scheduled_for").
			WithArgs(fireAt, jobID, ruleID, prev).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.SetScheduleIf(context.Background(), ruleID, &prev, fireAt, jobID)
		if err != nil || !ok {
			t.Errorf("SetScheduleIf() = %v, %v; want true, nil", ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestStoreClearScheduleIf(t *testing.T) {
	ruleID := uuid.New()
	expected := time.Now().Truncate(time.Second)

	t.Run("claim wins", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_rules SET scheduled_for=NULL").
			WithArgs(ruleID, expected).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.ClearScheduleIf(context.Background(), ruleID, expected)
		if err != nil || !ok {
			t.Errorf("ClearScheduleIf() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("claim loses on mismatch", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_rules SET scheduled_for=NULL").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.ClearScheduleIf(context.Background(), ruleID, expected)
		if err != nil || ok {
			t.Errorf("ClearScheduleIf() = %v, %v; want false, nil", ok, err)
		}
	})
}

func TestStoreTransitionMessage(t *testing.T) {
	msgID := uuid.New()

	t.Run("illegal transition rejected without touching the db", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		_, err := store.TransitionMessage(context.Background(), msgID, MessageFailed, MessageSent, "")
		if !IsValidation(err) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("no query should run: %v", err)
		}
	})

	t.Run("guarded update wins", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_messages").
			WithArgs(MessageSent, "", msgID, MessagePending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.TransitionMessage(context.Background(), msgID, MessagePending, MessageSent, "")
		if err != nil || !ok {
			t.Errorf("TransitionMessage() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("guarded update loses when row already moved", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE automation_messages").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.TransitionMessage(context.Background(), msgID, MessagePending, MessageFailed, "timeout")
		if err != nil || ok {
			t.Errorf("TransitionMessage() = %v, %v; want false, nil", ok, err)
		}
	})
}

func TestStoreSetStatus(t *testing.T) {
	t.Run("unknown status rejected", func(t *testing.T) {
		db, _, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		err := store.SetStatus(context.Background(), uuid.New(), uuid.New(), "archived")
		if !IsValidation(err) {
			t.Errorf("err = %v, want ValidationError", err)
		}
	})

	t.Run("missing incase returns ErrNotFound", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		mock.ExpectExec("UPDATE incases SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SetStatus(context.Background(), uuid.New(), uuid.New(), "done")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("updates the row", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()
		store := NewStore(db)

		acct, incase := uuid.New(), uuid.New()
		mock.ExpectExec("UPDATE incases SET status").
			WithArgs("in_progress", incase, acct).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.SetStatus(context.Background(), acct, incase, "in_progress"); err != nil {
			t.Errorf("SetStatus() error = %v", err)
		}
	})
}
