package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
)

type planRequest struct {
	Name        *string  `json:"name"`
	Price       *float64 `json:"price"`
	CycleDays   *int     `json:"cycle_days"`
	Description *string  `json:"description"`
	Active      *bool    `json:"active"`
}

func (r planRequest) apply(p *membershipdomain.Plan) {
	if r.Name != nil {
		p.Name = strings.TrimSpace(*r.Name)
	}
	if r.Price != nil {
		p.Price = *r.Price
	}
	if r.CycleDays != nil {
		p.CycleDays = *r.CycleDays
	}
	if r.Description != nil {
		p.Description = strings.TrimSpace(*r.Description)
	}
	if r.Active != nil {
		p.Active = *r.Active
	}
}

func (s *Server) ListPlans(c *gin.Context) {
	active, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	plans, err := s.members.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if active != nil {
		filtered := plans[:0]
		for _, p := range plans {
			if p.Active == *active {
				filtered = append(filtered, p)
			}
		}
		plans = filtered
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan := membershipdomain.Plan{Active: true}
	req.apply(&plan)

	res, err := s.members.UpsertPlan(c.Request.Context(), plan)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusCreated, res.Data, res.Queued)
}

func (s *Server) UpdatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	plans, err := s.members.ListPlans(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	var plan *membershipdomain.Plan
	for i := range plans {
		if plans[i].ID == id {
			plan = &plans[i]
			break
		}
	}
	if plan == nil {
		AbortWithError(c, membershipdomain.ErrPlanNotFound)
		return
	}
	req.apply(plan)

	res, err := s.members.UpsertPlan(ctx, *plan)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusOK, res.Data, res.Queued)
}

func (s *Server) DeletePlan(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	res, err := s.members.RemovePlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusOK, gin.H{"id": id}, res.Queued)
}
