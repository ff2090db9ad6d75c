package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/remote/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	t0 = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

type fixture struct {
	store  *localstore.Store
	queue  *outboxservice.Queue
	client *mock.MockClient
	rec    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := zaptest.NewLogger(t)

	var mu sync.Mutex
	n := 0
	store := localstore.NewMemory(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n)
	})
	clk := clock.NewFakeClock(t2)
	policy := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	client := mock.NewMockClient(ctrl)

	queue := outboxservice.NewQueue(outboxservice.QueueParams{Store: store, Clock: clk, Log: log})
	drainer := outboxservice.NewDrainer(outboxservice.DrainerParams{
		Queue:  queue,
		Client: client,
		Policy: policy,
		Clock:  clk,
		Log:    log,
	})
	rec := New(Params{
		Store:   store,
		Client:  client,
		Queue:   queue,
		Drainer: drainer,
		Engine:  billingcycle.NewEngine(policy, clk),
		Log:     log,
	})
	return &fixture{store: store, queue: queue, client: client, rec: rec}
}

func member(id, name string, updated time.Time) *membershipdomain.Member {
	return &membershipdomain.Member{
		ID:          id,
		Name:        name,
		Email:       id + "@example.com",
		MonthlyFee:  100,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NextDueDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:      membershipdomain.MemberStatusActive,
		UpdatedAt:   updated,
	}
}

func (f *fixture) put(t *testing.T, m *membershipdomain.Member) {
	t.Helper()
	_, err := f.store.Members.Put(context.Background(), m)
	require.NoError(t, err)
}

func TestRefreshPreservesPendingLocalEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := member("x", "Local Name", t1)
	f.put(t, local)
	_, err := f.queue.Enqueue(ctx, outboxdomain.OperationUpdate, outboxdomain.EntityMember, "x", local)
	require.NoError(t, err)

	// The remote copy is newer but the local edit has not drained yet.
	f.client.EXPECT().ListMembers(gomock.Any()).Return([]*membershipdomain.Member{member("x", "Stale Remote", t2)}, nil)
	f.client.EXPECT().ListPlans(gomock.Any()).Return(nil, nil)
	f.client.EXPECT().UpdateMember(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &apperr.RemoteUnavailableError{Op: "PUT clients"})

	result, err := f.rec.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Members.Kept)
	assert.Equal(t, 1, result.Drain.Retried)

	got, err := f.store.Members.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Local Name", got.Name)

	pending, err := f.queue.PendingFor(ctx, outboxdomain.EntityMember, "x")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRefreshRemoteWinsForSyncedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, member("older", "Old Local", t0))
	f.put(t, member("newer", "Ana", t2))
	f.put(t, member("undated", "Budi", t2))

	// Remote copies carry older or missing timestamps; with nothing pending
	// locally the server copy is still authoritative.
	f.client.EXPECT().ListMembers(gomock.Any()).Return([]*membershipdomain.Member{
		member("older", "Remote Wins", t1),
		member("newer", "Ana Edited Elsewhere", t1),
		member("undated", "Budi Edited Elsewhere", time.Time{}),
		member("fresh", "Remote Only", t1),
	}, nil)
	f.client.EXPECT().ListPlans(gomock.Any()).Return(nil, nil)

	result, err := f.rec.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, MergeStats{Inserted: 1, Updated: 3}, result.Members)

	got, err := f.store.Members.Get(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, "Remote Wins", got.Name)

	got, err = f.store.Members.Get(ctx, "newer")
	require.NoError(t, err)
	assert.Equal(t, "Ana Edited Elsewhere", got.Name)

	got, err = f.store.Members.Get(ctx, "undated")
	require.NoError(t, err)
	assert.Equal(t, "Budi Edited Elsewhere", got.Name)

	got, err = f.store.Members.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "Remote Only", got.Name)
	// Due in 21 days, outside the due-soon window.
	assert.Equal(t, membershipdomain.PaymentStatus(billingcycle.StatusPaid), got.PaymentStatus)
}

func TestRefreshReplacesOlderSyncedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Plans.Put(ctx, &membershipdomain.Plan{ID: "pl1", Name: "Monthly", Price: 100, CycleDays: 30, Active: true, UpdatedAt: t2})
	require.NoError(t, err)

	f.client.EXPECT().ListMembers(gomock.Any()).Return(nil, nil)
	f.client.EXPECT().ListPlans(gomock.Any()).Return([]*membershipdomain.Plan{
		{ID: "pl1", Name: "Monthly Plus", Price: 120, CycleDays: 30, Active: true},
	}, nil)

	result, err := f.rec.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Plans.Updated)

	plan, err := f.store.Plans.Get(ctx, "pl1")
	require.NoError(t, err)
	assert.Equal(t, "Monthly Plus", plan.Name)
	assert.Equal(t, 120.0, plan.Price)
}

func TestRefreshDeletesOnlySyncedAbsentRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put(t, member("synced", "Gone Remotely", t0))
	offline := member("offline", "Created Offline", t1)
	f.put(t, offline)
	_, err := f.queue.Enqueue(ctx, outboxdomain.OperationCreate, outboxdomain.EntityMember, "offline", offline)
	require.NoError(t, err)

	f.client.EXPECT().ListMembers(gomock.Any()).Return(nil, nil)
	f.client.EXPECT().ListPlans(gomock.Any()).Return(nil, nil)
	f.client.EXPECT().CreateMember(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *membershipdomain.Member, _ string) (*membershipdomain.Member, error) {
			return m, nil
		})

	result, err := f.rec.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Members.Deleted)
	assert.Equal(t, 1, result.Members.Kept)
	assert.Len(t, result.Drain.Completed, 1)

	_, err = f.store.Members.Get(ctx, "synced")
	assert.ErrorIs(t, err, localstore.ErrNotFound)
	_, err = f.store.Members.Get(ctx, "offline")
	assert.NoError(t, err)
}

func TestRefreshFetchFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, member("x", "Local", t0))

	f.client.EXPECT().ListMembers(gomock.Any()).Return(nil, &apperr.RemoteUnavailableError{Op: "GET clients"})

	_, err := f.rec.Refresh(ctx)
	assert.True(t, apperr.IsRemoteUnavailable(err))

	all, err := f.store.Members.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRefreshMergesPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.EXPECT().ListMembers(gomock.Any()).Return(nil, nil)
	f.client.EXPECT().ListPlans(gomock.Any()).Return([]*membershipdomain.Plan{
		{ID: "pl1", Name: "Quarterly Pass", Price: 270, CycleDays: 90, Active: true, UpdatedAt: t1},
	}, nil)

	result, err := f.rec.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Plans.Inserted)

	plan, err := f.store.Plans.Get(ctx, "pl1")
	require.NoError(t, err)
	assert.Equal(t, "quarterly-pass", plan.Slug)
}
