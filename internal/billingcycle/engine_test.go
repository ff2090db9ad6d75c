package billingcycle

import (
	"testing"
	"time"

	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineProject(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC))
	engine := NewEngine(StaticPolicy(config.BillingPolicy{
		DueSoonWindowDays: 7,
		DefaultCycleDays:  30,
	}), clk)

	p := engine.Project(date(2025, 2, 5), 80, 0)
	assert.Equal(t, 80.0, p.AmountOwed)
	assert.Equal(t, StatusDueSoon, p.Status)

	p = engine.Project(date(2025, 3, 30), 80, 0)
	assert.Zero(t, p.AmountOwed)
	assert.Equal(t, StatusPaid, p.Status)

	clk.Advance(10 * 24 * time.Hour)
	p = engine.Project(date(2025, 2, 5), 80, 0)
	assert.Equal(t, StatusOverdue, p.Status)
}

func TestEngineApplyPayment(t *testing.T) {
	engine := NewEngine(StaticPolicy(config.BillingPolicy{DefaultCycleDays: 30}), clock.SystemClock{})

	res, err := engine.ApplyPayment(date(2025, 1, 31), 100, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CyclesCovered)
	assert.Equal(t, date(2025, 3, 2), res.NewNextDueDate)

	_, err = engine.ApplyPayment(date(2025, 1, 31), 100, 0, 30)
	var inputErr *BillingInputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestEngineNextDueUsesDefaultCycle(t *testing.T) {
	engine := NewEngine(nil, clock.SystemClock{})
	got, err := engine.NextDueFromJoin(date(2025, 1, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 1, 31), got)
}

func TestProjectMember(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 2, 5, 12, 0, 0, 0, time.UTC))
	e := NewEngine(StaticPolicy(config.DefaultSyncConfig().Billing), clk)

	m := &domain.Member{
		MonthlyFee:          100,
		NextDueDate:         time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		BillingIntervalDays: 30,
	}
	e.ProjectMember(m)
	assert.Equal(t, 100.0, m.AmountOwed)
	assert.Equal(t, domain.PaymentStatus(StatusOverdue), m.PaymentStatus)
}
