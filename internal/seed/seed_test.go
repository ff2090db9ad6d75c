package seed

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEnsureDefaults(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory(nil)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := store.Settings.Put(ctx, &domain.Setting{Key: domain.SettingGymName, Value: []byte(`"Iron Temple"`)})
	require.NoError(t, err)

	require.NoError(t, EnsureDefaults(ctx, store, clk, zaptest.NewLogger(t)))

	plans, err := store.Plans.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	byID := map[string]*domain.Plan{}
	for _, p := range plans {
		byID[p.ID] = p
	}
	assert.Equal(t, 30, byID["monthly"].CycleDays)
	assert.Equal(t, 90, byID["quarterly"].CycleDays)

	gym, err := store.Settings.Get(ctx, domain.SettingGymName)
	require.NoError(t, err)
	assert.JSONEq(t, `"Iron Temple"`, string(gym.Value))
	window, err := store.Settings.Get(ctx, domain.SettingDueSoonWindow)
	require.NoError(t, err)
	assert.JSONEq(t, `7`, string(window.Value))
}

func TestEnsureDefaultsLeavesExistingPlans(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory(nil)
	_, err := store.Plans.Put(ctx, &domain.Plan{ID: "drop-in", Name: "Drop-in", CycleDays: 1})
	require.NoError(t, err)

	require.NoError(t, EnsureDefaults(ctx, store, nil, nil))

	plans, err := store.Plans.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}
