package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/providers/pdf"
	"go.uber.org/zap"
)

type recordPaymentRequest struct {
	ID          string  `json:"id"`
	MemberID    string  `json:"member_id"`
	AmountPaid  float64 `json:"amount_paid"`
	PaymentDate string  `json:"payment_date"`
	Method      string  `json:"method"`
	Note        string  `json:"note"`
}

type previewPaymentRequest struct {
	MemberID   string  `json:"member_id"`
	AmountPaid float64 `json:"amount_paid"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	paymentDate, err := parseOptionalDate(req.PaymentDate)
	if err != nil {
		AbortWithError(c, newValidationError("payment_date", "invalid_payment_date", "invalid payment_date"))
		return
	}

	input := membershipdomain.RecordPaymentRequest{
		ID:         strings.TrimSpace(req.ID),
		MemberID:   strings.TrimSpace(req.MemberID),
		AmountPaid: req.AmountPaid,
		Method:     strings.TrimSpace(req.Method),
		Note:       strings.TrimSpace(req.Note),
	}
	if paymentDate != nil {
		input.PaymentDate = *paymentDate
	}

	res, err := s.members.RecordPayment(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMutation(c, http.StatusCreated, res.Data, res.Queued)
}

func (s *Server) PreviewPayment(c *gin.Context) {
	var req previewPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	preview, err := s.members.PreviewPayment(c.Request.Context(), strings.TrimSpace(req.MemberID), req.AmountPaid)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": preview})
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, err := s.members.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) PaymentReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	payment, err := s.members.GetPayment(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	member, err := s.members.GetMember(ctx, payment.MemberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.receipts.GenerateReceipt(ctx, pdf.ReceiptData{
		GymName:       s.gymName(c),
		ReceiptNumber: payment.ID,
		MemberName:    member.Name,
		MemberEmail:   member.Email,
		PaymentDate:   payment.PaymentDate,
		AmountPaid:    payment.AmountPaid,
		Method:        payment.Method,
		Note:          payment.Note,
		CyclesCovered: payment.CyclesCovered,
		PreviousDue:   payment.PreviousDue,
		NextDue:       payment.NewNextDueDate,
		Pending:       payment.ConfirmedAt == nil,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"receipt-%s.pdf\"", payment.ID))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) gymName(c *gin.Context) string {
	setting, err := s.members.GetSetting(c.Request.Context(), membershipdomain.SettingGymName)
	if err != nil {
		if !errors.Is(err, membershipdomain.ErrSettingNotFound) {
			s.log.Warn("read gym name", zap.Error(err))
		}
		return ""
	}
	var name string
	if err := json.Unmarshal(setting.Value, &name); err != nil {
		return ""
	}
	return strings.TrimSpace(name)
}
