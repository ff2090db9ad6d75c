// Package billingcycle derives due dates, payment coverage and payment
// status from raw join and payment dates. Every function here is pure.
package billingcycle

import (
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
	StatusDueSoon Status = "due_soon"
	StatusDue     Status = "due"
)

// PaidThreshold is the amount below which a balance counts as settled.
const PaidThreshold = 0.01

// BillingInputError rejects a computation whose inputs would produce a
// meaningless date. Callers must not persist anything derived from them.
type BillingInputError struct {
	Field  string
	Reason string
}

func (e *BillingInputError) Error() string {
	return fmt.Sprintf("billing input %s: %s", e.Field, e.Reason)
}

func inputErr(field, reason string) error {
	return &BillingInputError{Field: field, Reason: reason}
}

// Day truncates t to midnight UTC. All comparisons in this package are made
// on calendar days.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}

func NextDueFromJoin(joinDate time.Time, cycleDays int) (time.Time, error) {
	if joinDate.IsZero() {
		return time.Time{}, inputErr("join_date", "required")
	}
	if cycleDays <= 0 {
		return time.Time{}, inputErr("cycle_days", "must be positive")
	}
	return Day(joinDate).AddDate(0, 0, cycleDays), nil
}

// Classify applies, in order: a settled balance is paid whatever the date;
// a past due date is overdue; a due date within the window is due soon;
// anything later is due.
func Classify(nextDueDate time.Time, amountOwed float64, today time.Time, dueSoonWindowDays int) Status {
	return ClassifyWithGrace(nextDueDate, amountOwed, today, dueSoonWindowDays, 0)
}

// ClassifyWithGrace is Classify with the overdue threshold pushed back by
// graceDays. A member inside the grace period is due soon.
func ClassifyWithGrace(nextDueDate time.Time, amountOwed float64, today time.Time, dueSoonWindowDays, graceDays int) Status {
	if amountOwed < PaidThreshold {
		return StatusPaid
	}
	if graceDays < 0 {
		graceDays = 0
	}
	daysUntil := DaysBetween(today, nextDueDate)
	if daysUntil+graceDays < 0 {
		return StatusOverdue
	}
	if daysUntil <= dueSoonWindowDays {
		return StatusDueSoon
	}
	return StatusDue
}

// MonthsCovered is the number of cycles a payment pays for. Any positive
// payment covers at least one cycle, including an underpayment.
func MonthsCovered(amountPaid, monthlyFee float64) (int, error) {
	if monthlyFee <= 0 || math.IsNaN(monthlyFee) || math.IsInf(monthlyFee, 0) {
		return 0, inputErr("monthly_fee", "must be positive to record a payment")
	}
	if amountPaid <= 0 || math.IsNaN(amountPaid) || math.IsInf(amountPaid, 0) {
		return 0, inputErr("amount_paid", "must be positive")
	}
	// The epsilon keeps 0.3/0.1 from flooring to 2.
	cycles := int(math.Floor(amountPaid/monthlyFee + 1e-9))
	if cycles < 1 {
		cycles = 1
	}
	return cycles, nil
}

// AdvanceDueDate moves previousNextDue forward by the cycles a payment
// covers. The payment date plays no part. The trailing grace days argument
// only matters to ClassifyWithGrace and is ignored here.
func AdvanceDueDate(previousNextDue time.Time, amountPaid, monthlyFee float64, cycleDays, _ int) (time.Time, error) {
	if previousNextDue.IsZero() {
		return time.Time{}, inputErr("next_due_date", "required")
	}
	if cycleDays <= 0 {
		return time.Time{}, inputErr("cycle_days", "must be positive")
	}
	cycles, err := MonthsCovered(amountPaid, monthlyFee)
	if err != nil {
		return time.Time{}, err
	}
	return Day(previousNextDue).AddDate(0, 0, cycles*cycleDays), nil
}

// AmountOwed projects the balance for a member: one fee for every due date
// already reached, or one fee when the next due date falls inside the
// due-soon window. A member paid further ahead owes nothing.
func AmountOwed(nextDueDate time.Time, monthlyFee float64, cycleDays int, today time.Time, dueSoonWindowDays int) float64 {
	if monthlyFee <= 0 || nextDueDate.IsZero() {
		return 0
	}
	if cycleDays <= 0 {
		cycleDays = 30
	}
	daysUntil := DaysBetween(today, nextDueDate)
	if daysUntil > dueSoonWindowDays {
		return 0
	}
	if daysUntil >= 0 {
		return monthlyFee
	}
	elapsed := (-daysUntil)/cycleDays + 1
	return monthlyFee * float64(elapsed)
}
