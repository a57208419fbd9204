package resources

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
)

const showPools = `SHOW COMPUTE POOLS`

func poolRows(state string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "state"}).
		AddRow("OTHER_POOL", "IDLE").
		AddRow("ML_SANDBOX_TEST", state)
}

func fastOptions() PoolOptions {
	return PoolOptions{MaxWait: time.Second, PollInterval: 10 * time.Millisecond}
}

func TestEnsureComputePoolReady_ResumesSuspendedPoolOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("SUSPENDED"))
	mock.ExpectExec(regexp.QuoteMeta("ALTER COMPUTE POOL ML_SANDBOX_TEST RESUME")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("RESUMING"))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("IDLE"))

	if err := EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", fastOptions()); err != nil {
		t.Fatalf("EnsureComputePoolReady failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureComputePoolReady_ReadyPoolIsNotTouched(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("active"))

	if err := EnsureComputePoolReady(context.Background(), db, "ml_sandbox_test", fastOptions()); err != nil {
		t.Fatalf("EnsureComputePoolReady failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureComputePoolReady_SuspendedAfterResume(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("SUSPENDED"))
	mock.ExpectExec(`ALTER COMPUTE POOL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("SUSPENDED"))

	err = EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", fastOptions())
	if !errors.Is(err, ErrPoolFailedToStart) {
		t.Fatalf("expected ErrPoolFailedToStart, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureComputePoolReady_Timeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	for i := 0; i < 100; i++ {
		mock.ExpectQuery(showPools).WillReturnRows(poolRows("STARTING"))
	}

	opts := PoolOptions{MaxWait: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	err = EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", opts)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestEnsureComputePoolReady_ReadyOnLastPoll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("SUSPENDED"))
	mock.ExpectExec(`ALTER COMPUTE POOL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("RESUMING"))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("IDLE"))

	opts := PoolOptions{MaxWait: 60 * time.Millisecond, PollInterval: 30 * time.Millisecond}
	if err := EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", opts); err != nil {
		t.Fatalf("EnsureComputePoolReady failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureComputePoolReady_ResumeWithinOneInterval(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("SUSPENDED"))
	mock.ExpectExec(`ALTER COMPUTE POOL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("RESUMING"))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("IDLE"))

	opts := PoolOptions{MaxWait: 30 * time.Millisecond, PollInterval: 30 * time.Millisecond}
	if err := EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", opts); err != nil {
		t.Fatalf("EnsureComputePoolReady failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureComputePoolReady_TimeoutAfterBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("STARTING"))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("STARTING"))
	mock.ExpectQuery(showPools).WillReturnRows(poolRows("STARTING"))

	opts := PoolOptions{MaxWait: 60 * time.Millisecond, PollInterval: 30 * time.Millisecond}
	err = EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", opts)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPollBudget(t *testing.T) {
	tests := []struct {
		maxWait, interval time.Duration
		want              int
	}{
		{60 * time.Second, 3 * time.Second, 20},
		{6 * time.Second, 3 * time.Second, 2},
		{7 * time.Second, 3 * time.Second, 3},
		{3 * time.Second, 3 * time.Second, 2},
		{time.Second, 3 * time.Second, 2},
	}
	for _, tt := range tests {
		if got := pollBudget(tt.maxWait, tt.interval); got != tt.want {
			t.Errorf("pollBudget(%s, %s) = %d, want %d", tt.maxWait, tt.interval, got, tt.want)
		}
	}
}

func TestEnsureComputePoolReady_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(sqlmock.NewRows([]string{"name", "state"}).AddRow("OTHER_POOL", "IDLE"))

	err = EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", fastOptions())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsureComputePoolReady_UnknownInitialState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(showPools).WillReturnRows(poolRows("STOPPING"))

	err = EnsureComputePoolReady(context.Background(), db, "ML_SANDBOX_TEST", fastOptions())
	if err == nil {
		t.Fatal("expected error for unexpected state")
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("expected immediate failure, got timeout")
	}
}

func TestEnsureComputePoolReady_InvalidName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	err = EnsureComputePoolReady(context.Background(), db, "pool; DROP TABLE x", fastOptions())
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
