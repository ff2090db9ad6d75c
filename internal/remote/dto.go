package remote

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/fitdesk/internal/membership/domain"
)

const dateLayout = "2006-01-02"

// Date is a calendar date on the wire. It decodes both "2006-01-02" and
// RFC 3339 timestamps and encodes as the former.
type Date struct {
	time.Time
}

func NewDate(t time.Time) *Date {
	if t.IsZero() {
		return nil
	}
	return &Date{Time: t.UTC()}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return err
	}
	d.Time = t.UTC()
	return nil
}

func (d *Date) value() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

type clientDTO struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Email                string     `json:"email"`
	Phone                string     `json:"phone,omitempty"`
	MembershipType       string     `json:"membership_type,omitempty"`
	MonthlyFee           float64    `json:"monthly_fee"`
	JoinDate             *Date      `json:"join_date,omitempty"`
	NextPaymentDate      *Date      `json:"next_payment_date,omitempty"`
	LastPaymentDate      *Date      `json:"last_payment_date,omitempty"`
	Status               string     `json:"status,omitempty"`
	AmountOwed           float64    `json:"amount_owed"`
	PaymentStatus        string     `json:"payment_status,omitempty"`
	BillingIntervalDays  int        `json:"billing_interval_days,omitempty"`
	AutoRemindersEnabled bool       `json:"auto_reminders_enabled"`
	CreatedAt            *time.Time `json:"created_at,omitempty"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

func toClientDTO(m *domain.Member) clientDTO {
	dto := clientDTO{
		ID:                   m.ID,
		Name:                 m.Name,
		Email:                m.Email,
		Phone:                m.Phone,
		MembershipType:       m.MembershipType,
		MonthlyFee:           m.MonthlyFee,
		JoinDate:             NewDate(m.StartDate),
		NextPaymentDate:      NewDate(m.NextDueDate),
		Status:               string(m.Status),
		AmountOwed:           m.AmountOwed,
		PaymentStatus:        string(m.PaymentStatus),
		BillingIntervalDays:  m.BillingIntervalDays,
		AutoRemindersEnabled: m.AutoRemindersEnabled,
	}
	if m.LastPaymentDate != nil {
		dto.LastPaymentDate = NewDate(*m.LastPaymentDate)
	}
	if !m.CreatedAt.IsZero() {
		created := m.CreatedAt.UTC()
		dto.CreatedAt = &created
	}
	if !m.UpdatedAt.IsZero() {
		updated := m.UpdatedAt.UTC()
		dto.UpdatedAt = &updated
	}
	return dto
}

func (dto clientDTO) toDomain() *domain.Member {
	m := &domain.Member{
		ID:                   dto.ID,
		Name:                 dto.Name,
		Email:                dto.Email,
		Phone:                dto.Phone,
		MembershipType:       dto.MembershipType,
		MonthlyFee:           dto.MonthlyFee,
		StartDate:            dto.JoinDate.value(),
		NextDueDate:          dto.NextPaymentDate.value(),
		Status:               domain.MemberStatus(dto.Status),
		AmountOwed:           dto.AmountOwed,
		PaymentStatus:        domain.PaymentStatus(dto.PaymentStatus),
		BillingIntervalDays:  dto.BillingIntervalDays,
		AutoRemindersEnabled: dto.AutoRemindersEnabled,
	}
	if m.Status == "" {
		m.Status = domain.MemberStatusActive
	}
	if dto.LastPaymentDate != nil && !dto.LastPaymentDate.IsZero() {
		last := dto.LastPaymentDate.Time
		m.LastPaymentDate = &last
	}
	if dto.CreatedAt != nil {
		m.CreatedAt = dto.CreatedAt.UTC()
	}
	if dto.UpdatedAt != nil {
		m.UpdatedAt = dto.UpdatedAt.UTC()
	}
	return m
}

type membershipTypeDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Price        float64    `json:"price"`
	DurationDays int        `json:"duration_days"`
	Description  string     `json:"description,omitempty"`
	IsActive     bool       `json:"is_active"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func toMembershipTypeDTO(p *domain.Plan) membershipTypeDTO {
	dto := membershipTypeDTO{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		DurationDays: p.CycleDays,
		Description:  p.Description,
		IsActive:     p.Active,
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt.UTC()
		dto.UpdatedAt = &updated
	}
	return dto
}

func (dto membershipTypeDTO) toDomain() *domain.Plan {
	p := &domain.Plan{
		ID:          dto.ID,
		Name:        dto.Name,
		Price:       dto.Price,
		CycleDays:   dto.DurationDays,
		Description: dto.Description,
		Active:      dto.IsActive,
	}
	if dto.UpdatedAt != nil {
		p.UpdatedAt = dto.UpdatedAt.UTC()
	}
	return p
}

type recordPaymentRequest struct {
	PaymentID     string  `json:"payment_id"`
	ClientID      string  `json:"client_id"`
	AmountPaid    float64 `json:"amount_paid"`
	PaymentDate   *Date   `json:"payment_date"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

type recordPaymentResponse struct {
	AmountPaid         float64 `json:"amount_paid"`
	NewNextPaymentDate *Date   `json:"new_next_payment_date"`
	InvoiceSent        bool    `json:"invoice_sent"`
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// parseErrorBody extracts a code and message from the shapes the remote
// service is known to use: {"error": {...}}, {"error": "..."} and
// {"code", "message"}.
func parseErrorBody(body []byte) (string, string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", strings.TrimSpace(string(body))
	}
	code, msg := eb.Code, eb.Message
	if len(eb.Error) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(eb.Error, &detail); err == nil {
			if detail.Code != "" {
				code = detail.Code
			} else if detail.Type != "" {
				code = detail.Type
			}
			if detail.Message != "" {
				msg = detail.Message
			}
		} else {
			var text string
			if err := json.Unmarshal(eb.Error, &text); err == nil && msg == "" {
				msg = text
			}
		}
	}
	return code, msg
}
