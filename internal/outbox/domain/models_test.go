package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRetryCeiling(t *testing.T) {
	e := &Entry{Status: StatusPending}
	boom := errors.New("timeout")

	for i := 0; i < DefaultMaxRetries; i++ {
		e.MarkRetry(boom, DefaultMaxRetries)
		assert.Equal(t, StatusPending, e.Status, "attempt %d", i+1)
	}
	e.MarkRetry(boom, DefaultMaxRetries)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, 4, e.RetryCount)
	assert.Equal(t, "timeout", e.LastError)
}

func TestEntryRequeue(t *testing.T) {
	e := &Entry{Status: StatusPending}
	assert.ErrorIs(t, e.Requeue(), ErrNotFailed)

	e.MarkFailed(errors.New("rejected"))
	require.NoError(t, e.Requeue())
	assert.Equal(t, StatusPending, e.Status)
	assert.Zero(t, e.RetryCount)
	assert.Empty(t, e.LastError)
}

func TestEntryValidate(t *testing.T) {
	e := &Entry{Operation: OperationCreate, EntityType: EntityMember, EntityID: "1"}
	assert.NoError(t, e.Validate())

	e.Operation = "upsert"
	assert.ErrorIs(t, e.Validate(), ErrInvalidOperation)

	e.Operation = OperationDelete
	e.EntityType = "invoice"
	assert.ErrorIs(t, e.Validate(), ErrInvalidEntityType)
}

func TestEntryBefore(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Entry{ID: "2", CreatedAt: now}
	b := &Entry{ID: "1", CreatedAt: now.Add(time.Millisecond)}
	c := &Entry{ID: "3", CreatedAt: now}

	assert.True(t, a.Before(b))
	assert.True(t, a.Before(c))
	assert.False(t, c.Before(a))
}
