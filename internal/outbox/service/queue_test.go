package service

import (
	"context"
	"testing"

	"github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAssignsKeyAndOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	second := h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")
	third := h.enqueueMember(t, domain.OperationCreate, "m2", "Budi")

	assert.NotEmpty(t, second.ID)
	assert.NotEmpty(t, second.IdempotencyKey)
	assert.NotEqual(t, second.IdempotencyKey, third.IdempotencyKey)
	assert.Equal(t, domain.StatusPending, second.Status)

	pending, err := h.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m1", pending[0].EntityID)
	assert.Equal(t, "m2", pending[1].EntityID)

	ids, err := h.queue.PendingIDs(ctx, domain.EntityMember)
	require.NoError(t, err)
	assert.Contains(t, ids, "m1")
	assert.Contains(t, ids, "m2")
}

func TestEnqueueValidates(t *testing.T) {
	h := newHarness(t)
	_, err := h.queue.Enqueue(context.Background(), domain.OperationCreate, domain.EntityMember, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEntityID)

	_, err = h.queue.Enqueue(context.Background(), "upsert", domain.EntityMember, "m1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestRetryFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entry := h.enqueueMember(t, domain.OperationCreate, "m1", "Ana")

	_, err := h.queue.RetryFailed(ctx, entry.ID)
	assert.ErrorIs(t, err, domain.ErrNotFailed)

	_, err = h.queue.RetryFailed(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entry.RetryCount = 4
	entry.MarkFailed(assert.AnError)
	require.NoError(t, h.queue.save(ctx, entry))

	pending, failed, err := h.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, failed)

	requeued, err := h.queue.RetryFailed(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, requeued.Status)
	assert.Zero(t, requeued.RetryCount)
	assert.Empty(t, requeued.LastError)
}
