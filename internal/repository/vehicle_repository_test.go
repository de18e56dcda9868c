package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/parking-anpr/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &VehicleRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &VehicleRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestExecuteWithRetryStopsOnCancelledContext(t *testing.T) {
	repo := &VehicleRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Hour,
		maxBackoff:     time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := repo.executeWithRetry(ctx, "test.operation", "", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestFindByNormalizedPlatesSkipsEmptyInput(t *testing.T) {
	repo := &VehicleRepository{logger: zap.NewNop()}
	vehicles, err := repo.FindByNormalizedPlates(context.Background(), "req", nil)
	if err != nil || vehicles != nil {
		t.Fatalf("expected no query for empty input, got %v %v", vehicles, err)
	}
}

func TestFindByNormalizedPlatesStripsAllWhitespace(t *testing.T) {
	db, err := gorm.Open(postgres.Open("host=localhost user=anpr dbname=anpr sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to open dry-run db: %v", err)
	}

	var statements []string
	var vars [][]any
	if err := db.Callback().Query().After("gorm:query").Register("test:capture_sql", func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
		vars = append(vars, tx.Statement.Vars)
	}); err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	repo := NewVehicleRepository(db, zap.NewNop())
	if _, err := repo.FindByNormalizedPlates(context.Background(), "req-3", []string{"AB12CDE", "MN05XYZ"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(statements) != 1 {
		t.Fatalf("expected one query, got %d", len(statements))
	}
	if !strings.Contains(statements[0], `UPPER(REGEXP_REPLACE(registration_plate, '\s', '', 'g')) IN`) {
		t.Fatalf("expected whitespace-stripping comparison, got %s", statements[0])
	}
	if len(vars[0]) != 2 || vars[0][0] != "AB12CDE" || vars[0][1] != "MN05XYZ" {
		t.Fatalf("unexpected query vars: %v", vars[0])
	}
}
