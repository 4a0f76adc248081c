package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "lock_held", err: fmt.Errorf("mark_overdue: %w", ErrLockHeld), want: SchedulerJobReasonLockHeld},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "clientbilling",
		Environment: "test",
	})

	metrics.AddBatchProcessed("mark_overdue", "invoices", 3)
	metrics.AddBatchProcessed("mark_overdue", "invoices", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("mark_overdue", "invoices"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected pg errors to be retryable")
	}
	if IsSchedulerErrorRetryable(errors.New("bad input")) {
		t.Fatalf("expected plain errors to be final")
	}
}
