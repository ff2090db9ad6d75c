package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"github.com/smallbiznis/fitdesk/internal/remote/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	store   *localstore.Store
	clock   *clock.FakeClock
	queue   *Queue
	drainer *Drainer
	client  *mock.MockClient
}

func sequentialIDs() localstore.IDFunc {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n)
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := zaptest.NewLogger(t)

	store := localstore.NewMemory(sequentialIDs())
	clk := clock.NewFakeClock(time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC))
	client := mock.NewMockClient(ctrl)

	queue := NewQueue(QueueParams{Store: store, Clock: clk, Log: log})
	drainer := NewDrainer(DrainerParams{
		Queue:  queue,
		Client: client,
		Policy: config.NewStaticSyncConfigHolder(config.DefaultSyncConfig()),
		Clock:  clk,
		Log:    log,
	})
	return &harness{store: store, clock: clk, queue: queue, drainer: drainer, client: client}
}

func (h *harness) enqueueMember(t *testing.T, op domain.Operation, id, name string) *domain.Entry {
	t.Helper()
	entry, err := h.queue.Enqueue(context.Background(), op, domain.EntityMember, id, &membershipdomain.Member{
		ID:    id,
		Name:  name,
		Email: id + "@example.com",
	})
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	return entry
}

func unavailable() error {
	return &apperr.RemoteUnavailableError{Op: "POST clients", Err: context.DeadlineExceeded}
}

func rejected(status int) error {
	return &apperr.RemoteRejectedError{Op: "POST clients", StatusCode: status, Code: "rejected"}
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []Confirmation
}

func (a *recordingApplier) ApplyConfirmed(_ context.Context, _ *domain.Entry, c Confirmation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, c)
	return nil
}

func TestDrainReplaysInCreationOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")
	h.enqueueMember(t, domain.OperationUpdate, "m1", "Ana Maria")
	h.enqueueMember(t, domain.OperationDelete, "m2", "")

	gomock.InOrder(
		h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
				assert.Equal(t, "Ana", m.Name)
				return m, nil
			}),
		h.client.EXPECT().UpdateMember(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
				assert.Equal(t, "Ana Maria", m.Name)
				return m, nil
			}),
		h.client.EXPECT().DeleteMember(gomock.Any(), "m2", gomock.Any()).Return(nil),
	)

	applier := &recordingApplier{}
	h.drainer.SetApplier(applier)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Completed, 3)
	assert.Len(t, applier.applied, 3)

	pending, err := h.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainRetryCeilingRetainsFailedEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entry := h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")

	var keys []string
	h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *membershipdomain.Member, key string) (*membershipdomain.Member, error) {
			keys = append(keys, key)
			return nil, unavailable()
		}).Times(4)

	for i := 1; i <= 3; i++ {
		result, err := h.drainer.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Retried)
		assert.True(t, result.Interrupted)

		stored, err := h.store.Outbox.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, stored.Status)
		assert.Equal(t, i, stored.RetryCount)
		assert.NotEmpty(t, stored.LastError)
	}

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed, err := h.queue.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 4, failed[0].RetryCount)

	// Replays reuse one idempotency key.
	for _, key := range keys {
		assert.Equal(t, entry.IdempotencyKey, key)
	}

	// Failed entries are not replayed again.
	result, err = h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Completed)
	assert.Zero(t, result.Failed)
}

func TestDrainRejectionFailsImmediatelyAndBlocksEntity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")
	h.enqueueMember(t, domain.OperationUpdate, "m1", "Ana Maria")
	h.enqueueMember(t, domain.OperationCreate, "m2", "Budi")

	h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
			if m.ID == "m1" {
				return nil, rejected(http.StatusUnprocessableEntity)
			}
			return m, nil
		}).Times(2)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, result.Completed, 1)
	assert.False(t, result.Interrupted)

	pending, err := h.queue.PendingFor(ctx, domain.EntityMember, "m1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.OperationUpdate, pending[0].Operation)
	assert.Zero(t, pending[0].RetryCount)
}

func TestDrainStopsWhenRemoteUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")
	h.enqueueMember(t, domain.OperationCreate, "m2", "Budi")

	h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, unavailable()).Times(1)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, result.Interrupted)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 1, result.Skipped)

	pending, err := h.queue.PendingFor(ctx, domain.EntityMember, "m2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)
}

func TestDrainInProgressGuard(t *testing.T) {
	h := newHarness(t)
	h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")

	started := make(chan struct{})
	release := make(chan struct{})
	h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
			close(started)
			<-release
			return m, nil
		})

	done := make(chan error, 1)
	go func() {
		_, err := h.drainer.Drain(context.Background())
		done <- err
	}()

	<-started
	assert.True(t, h.drainer.Running())
	_, err := h.drainer.Drain(context.Background())
	assert.ErrorIs(t, err, domain.ErrDrainInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.drainer.Running())
}

type heldLock struct{}

func (heldLock) TryLockDrain(context.Context) (string, bool, error) { return "", false, nil }
func (heldLock) ReleaseDrain(context.Context, string) error         { return nil }

func TestDrainRespectsSharedLock(t *testing.T) {
	h := newHarness(t)
	h.drainer.lock = heldLock{}

	_, err := h.drainer.Drain(context.Background())
	assert.ErrorIs(t, err, domain.ErrDrainInProgress)
}

func TestReplayCreateConflictFallsBackToUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")

	gomock.InOrder(
		h.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, rejected(http.StatusConflict)),
		h.client.EXPECT().UpdateMember(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
				return m, nil
			}),
	)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Completed, 1)
}

func TestReplayDeleteOfMissingIDSucceeds(t *testing.T) {
	h := newHarness(t)
	h.enqueueMember(t, domain.OperationDelete, "gone", "")

	h.client.EXPECT().DeleteMember(gomock.Any(), "gone", gomock.Any()).Return(rejected(http.StatusNotFound))

	result, err := h.drainer.Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Completed, 1)
}

func TestReplayPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, domain.OperationCreate, domain.EntityPayment, "p1", &membershipdomain.Payment{
		ID:         "p1",
		MemberID:   "m1",
		AmountPaid: 100,
	})
	require.NoError(t, err)

	next := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	h.client.EXPECT().RecordPayment(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&remote.PaymentReceipt{AmountPaid: 100, NewNextDueDate: &next, InvoiceSent: true}, nil)

	applier := &recordingApplier{}
	h.drainer.SetApplier(applier)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Completed, 1)
	require.Len(t, applier.applied, 1)
	require.NotNil(t, applier.applied[0].Receipt)
	assert.Equal(t, next, *applier.applied[0].Receipt.NewNextDueDate)
}

func TestCorruptPayloadFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Outbox.Put(ctx, &domain.Entry{
		Operation:      domain.OperationCreate,
		EntityType:     domain.EntityMember,
		EntityID:       "m1",
		Payload:        []byte(`{not json`),
		CreatedAt:      h.clock.Now(),
		Status:         domain.StatusPending,
		IdempotencyKey: "k",
	})
	require.NoError(t, err)

	result, err := h.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestHoldExcludesDrain(t *testing.T) {
	h := newHarness(t)

	err := h.drainer.Hold(context.Background(), func(ctx context.Context) error {
		_, err := h.drainer.Drain(ctx)
		assert.ErrorIs(t, err, domain.ErrDrainInProgress)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, h.drainer.Running())
}
