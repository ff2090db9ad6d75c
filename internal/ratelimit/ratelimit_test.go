package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilGuardAllowsEverything(t *testing.T) {
	var g *SyncGuard
	ctx := context.Background()

	assert.False(t, g.Enabled())

	res, err := g.AllowTrigger(ctx, "drain")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := g.TryLockDrain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, g.ReleaseDrain(ctx, token))
}

func TestNilClientHelpers(t *testing.T) {
	assert.Nil(t, NewLease(nil, "desk-1"))
	assert.Nil(t, NewTokenBucket(nil, 1, 1))

	var l *Lease
	_, _, err := l.Acquire(context.Background(), "k", time.Second)
	assert.Error(t, err)
	_, err = l.Holder(context.Background(), "k")
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}

func TestLeaseDevice(t *testing.T) {
	assert.Equal(t, "desk-1", leaseDevice("desk-1|0b6d"))
	assert.Equal(t, "", leaseDevice("|0b6d"))
	assert.Equal(t, "", leaseDevice("legacy-token"))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, bucketTTL(0, 1))
	assert.Equal(t, 30*time.Second, bucketTTL(0.2, 3))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestTriggerCost(t *testing.T) {
	assert.Equal(t, 1, triggerCost("drain", 3))
	assert.Equal(t, 2, triggerCost("refresh", 3))
	assert.Equal(t, 1, triggerCost("refresh", 1))
}

func TestNilBucketRefuses(t *testing.T) {
	var b *TokenBucket
	_, err := b.Take(context.Background(), "k", 1)
	assert.Error(t, err)
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(2), castToInt("2"))
	assert.InDelta(t, 0.75, castToFloat("0.75"), 1e-9)
	assert.InDelta(t, 3.0, castToFloat(int64(3)), 1e-9)
	assert.Zero(t, castToFloat(nil))
}
