package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "drain_in_progress",
			err:  fmt.Errorf("drain: %w", outboxdomain.ErrDrainInProgress),
			want: SchedulerJobReasonDrainInProgress,
		},
		{
			name: "remote_unavailable",
			err:  &apperr.RemoteUnavailableError{Op: "GET /clients", Err: errors.New("dial tcp")},
			want: SchedulerJobReasonRemoteUnavailable,
		},
		{
			name: "remote_rejected",
			err:  &apperr.RemoteRejectedError{Op: "POST /clients", StatusCode: 422},
			want: SchedulerJobReasonRemoteRejected,
		},
		{
			name: "local_storage",
			err:  &apperr.LocalStorageError{Op: "put", Collection: "members", Err: errors.New("disk full")},
			want: SchedulerJobReasonLocalStorage,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(&apperr.RemoteUnavailableError{Op: "x"}) {
		t.Fatal("expected remote unavailable to be retryable")
	}
	if IsSchedulerErrorRetryable(&apperr.RemoteRejectedError{Op: "x", StatusCode: 400}) {
		t.Fatal("expected rejection to be final")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "fitdesk",
		Environment: "test",
	})

	metrics.AddBatchProcessed("refresh", "members", 3)
	metrics.AddDrainOutcome(DrainOutcomeCompleted, 2)
	metrics.SetOutboxDepth(4, 1)

	if got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("refresh", "members")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.drainEntries.WithLabelValues(DrainOutcomeCompleted)); got != 2 {
		t.Fatalf("expected completed count 2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.outboxDepth.WithLabelValues("pending")); got != 4 {
		t.Fatalf("expected pending depth 4, got %v", got)
	}
}
