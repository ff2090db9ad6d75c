package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
)

type memberRequest struct {
	Name                 *string  `json:"name"`
	Email                *string  `json:"email"`
	Phone                *string  `json:"phone"`
	MembershipType       *string  `json:"membership_type"`
	MonthlyFee           *float64 `json:"monthly_fee"`
	StartDate            *string  `json:"start_date"`
	NextDueDate          *string  `json:"next_due_date"`
	Status               *string  `json:"status"`
	BillingIntervalDays  *int     `json:"billing_interval_days"`
	AutoRemindersEnabled *bool    `json:"auto_reminders_enabled"`
}

// apply overlays the fields present in the request onto m.
func (r memberRequest) apply(m *membershipdomain.Member) error {
	if r.Name != nil {
		m.Name = strings.TrimSpace(*r.Name)
	}
	if r.Email != nil {
		m.Email = strings.TrimSpace(*r.Email)
	}
	if r.Phone != nil {
		m.Phone = strings.TrimSpace(*r.Phone)
	}
	if r.MembershipType != nil {
		m.MembershipType = strings.TrimSpace(*r.MembershipType)
	}
	if r.MonthlyFee != nil {
		m.MonthlyFee = *r.MonthlyFee
	}
	if r.StartDate != nil {
		start, err := parseOptionalDate(*r.StartDate)
		if err != nil {
			return newValidationError("start_date", "invalid_start_date", "invalid start_date")
		}
		if start != nil {
			m.StartDate = *start
		}
	}
	if r.NextDueDate != nil {
		next, err := parseOptionalDate(*r.NextDueDate)
		if err != nil {
			return newValidationError("next_due_date", "invalid_next_due_date", "invalid next_due_date")
		}
		if next != nil {
			m.NextDueDate = *next
		}
	}
	if r.Status != nil {
		m.Status = membershipdomain.MemberStatus(strings.ToLower(strings.TrimSpace(*r.Status)))
	}
	if r.BillingIntervalDays != nil {
		m.BillingIntervalDays = *r.BillingIntervalDays
	}
	if r.AutoRemindersEnabled != nil {
		m.AutoRemindersEnabled = *r.AutoRemindersEnabled
	}
	return nil
}

func (s *Server) ListMembers(c *gin.Context) {
	filter, err := parseMemberFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	members, err := s.members.ListMembers(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) GetMember(c *gin.Context) {
	member, err := s.members.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) CreateMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var member membershipdomain.Member
	if err := req.apply(&member); err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.members.UpsertMember(c.Request.Context(), member)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusCreated, res.Data, res.Queued)
}

func (s *Server) UpdateMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	member, err := s.members.GetMember(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := req.apply(&member); err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.members.UpsertMember(ctx, member)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusOK, res.Data, res.Queued)
}

func (s *Server) DeleteMember(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	res, err := s.members.RemoveMember(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusOK, gin.H{"id": id}, res.Queued)
}

func (s *Server) ListMemberPayments(c *gin.Context) {
	payments, err := s.members.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}
