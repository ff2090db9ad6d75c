package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
)

const dateOnlyLayout = "2006-01-02"

var errInvalidDate = errors.New("invalid_date")

// parseMemberFilter reads ?status, ?payment_status and ?q. Unknown status
// values are rejected rather than silently matching nothing.
func parseMemberFilter(c *gin.Context) (membershipdomain.MemberFilter, error) {
	status := membershipdomain.MemberStatus(normalizeQuery(c.Query("status")))
	switch status {
	case "", membershipdomain.MemberStatusActive, membershipdomain.MemberStatusInactive:
	default:
		return membershipdomain.MemberFilter{}, newValidationError("status", "invalid_status", "status must be active or inactive")
	}

	payment := normalizeQuery(c.Query("payment_status"))
	switch billingcycle.Status(payment) {
	case "", billingcycle.StatusPaid, billingcycle.StatusOverdue, billingcycle.StatusDueSoon, billingcycle.StatusDue:
	default:
		return membershipdomain.MemberFilter{}, newValidationError("payment_status", "invalid_payment_status",
			"payment_status must be paid, overdue, due_soon or due")
	}

	return membershipdomain.MemberFilter{
		Status:        status,
		PaymentStatus: membershipdomain.PaymentStatus(payment),
		Query:         strings.TrimSpace(c.Query("q")),
	}, nil
}

func normalizeQuery(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseOptionalDate accepts a bare calendar date (the front desk form) or
// RFC3339, normalized to the UTC day.
func parseOptionalDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range []string{dateOnlyLayout, time.RFC3339} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			day := billingcycle.Day(parsed)
			return &day, nil
		}
	}
	return nil, errInvalidDate
}
