package billingcycle

import (
	"time"

	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"go.uber.org/fx"
)

// PolicySource returns the current billing policy. It is read on every call
// so config reloads apply without a restart.
type PolicySource interface {
	Billing() config.BillingPolicy
}

type staticPolicy config.BillingPolicy

func (p staticPolicy) Billing() config.BillingPolicy { return config.BillingPolicy(p) }

// StaticPolicy wraps a fixed policy, mostly for tests.
func StaticPolicy(p config.BillingPolicy) PolicySource { return staticPolicy(p) }

// Projection is the cached billing view stored on a member.
type Projection struct {
	AmountOwed float64
	Status     Status
}

// Payment is the result of applying a payment to a due date.
type Payment struct {
	CyclesCovered  int
	PreviousDue    time.Time
	NewNextDueDate time.Time
}

// Engine binds the pure functions to the configured policy and clock.
type Engine struct {
	policy PolicySource
	clock  clock.Clock
}

type Params struct {
	fx.In

	Policy *config.SyncConfigHolder
	Clock  clock.Clock
}

func New(p Params) *Engine {
	return NewEngine(p.Policy, p.Clock)
}

func NewEngine(policy PolicySource, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Engine{policy: policy, clock: clk}
}

func (e *Engine) Policy() config.BillingPolicy {
	if e.policy == nil {
		return config.DefaultSyncConfig().Billing
	}
	return e.policy.Billing()
}

func (e *Engine) Today() time.Time { return Day(e.clock.Now()) }

// CycleDays falls back to the policy default for members without an
// explicit interval.
func (e *Engine) CycleDays(memberCycle int) int {
	if memberCycle > 0 {
		return memberCycle
	}
	if d := e.Policy().DefaultCycleDays; d > 0 {
		return d
	}
	return 30
}

func (e *Engine) NextDueFromJoin(joinDate time.Time, cycleDays int) (time.Time, error) {
	return NextDueFromJoin(joinDate, e.CycleDays(cycleDays))
}

func (e *Engine) Classify(nextDueDate time.Time, amountOwed float64) Status {
	p := e.Policy()
	return ClassifyWithGrace(nextDueDate, amountOwed, e.Today(), p.DueSoonWindowDays, p.GraceDays)
}

// Project recomputes the balance and status for a member as of today.
func (e *Engine) Project(nextDueDate time.Time, monthlyFee float64, cycleDays int) Projection {
	p := e.Policy()
	today := e.Today()
	owed := AmountOwed(nextDueDate, monthlyFee, e.CycleDays(cycleDays), today, p.DueSoonWindowDays)
	return Projection{
		AmountOwed: owed,
		Status:     ClassifyWithGrace(nextDueDate, owed, today, p.DueSoonWindowDays, p.GraceDays),
	}
}

// ProjectMember stores the projection on m.
func (e *Engine) ProjectMember(m *domain.Member) {
	proj := e.Project(m.NextDueDate, m.MonthlyFee, m.BillingIntervalDays)
	m.AmountOwed = proj.AmountOwed
	m.PaymentStatus = domain.PaymentStatus(proj.Status)
}

// ApplyPayment validates a payment and computes the advanced due date.
func (e *Engine) ApplyPayment(previousNextDue time.Time, amountPaid, monthlyFee float64, cycleDays int) (Payment, error) {
	cycles, err := MonthsCovered(amountPaid, monthlyFee)
	if err != nil {
		return Payment{}, err
	}
	next, err := AdvanceDueDate(previousNextDue, amountPaid, monthlyFee, e.CycleDays(cycleDays), e.Policy().GraceDays)
	if err != nil {
		return Payment{}, err
	}
	return Payment{
		CyclesCovered:  cycles,
		PreviousDue:    Day(previousNextDue),
		NewNextDueDate: next,
	}, nil
}
