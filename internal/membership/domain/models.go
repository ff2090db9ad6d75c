package domain

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
)

type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusInactive MemberStatus = "inactive"
)

// PaymentStatus mirrors billingcycle.Status; it is stored as the cached
// projection on each member row.
type PaymentStatus string

const DefaultBillingIntervalDays = 30

type Member struct {
	ID                   string        `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Name                 string        `gorm:"not null" json:"name"`
	Email                string        `gorm:"not null;index" json:"email"`
	Phone                string        `json:"phone,omitempty"`
	MembershipType       string        `json:"membership_type,omitempty"`
	MonthlyFee           float64       `gorm:"not null;default:0" json:"monthly_fee"`
	StartDate            time.Time     `gorm:"not null" json:"start_date"`
	NextDueDate          time.Time     `gorm:"not null;index" json:"next_due_date"`
	LastPaymentDate      *time.Time    `json:"last_payment_date,omitempty"`
	Status               MemberStatus  `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	AmountOwed           float64       `gorm:"not null;default:0" json:"amount_owed"`
	PaymentStatus        PaymentStatus `gorm:"type:varchar(16)" json:"payment_status"`
	BillingIntervalDays  int           `gorm:"not null;default:30" json:"billing_interval_days"`
	AutoRemindersEnabled bool          `gorm:"not null;default:false" json:"auto_reminders_enabled"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `gorm:"index" json:"updated_at"`
}

func (Member) TableName() string { return "members" }

func (m *Member) RecordID() string   { return m.ID }
func (m *Member) AssignID(id string) { m.ID = id }
func (m *Member) IsActive() bool     { return m.Status != MemberStatusInactive }
func (m *Member) CycleDays() int {
	if m.BillingIntervalDays <= 0 {
		return DefaultBillingIntervalDays
	}
	return m.BillingIntervalDays
}

type Payment struct {
	ID             string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	MemberID       string     `gorm:"type:varchar(32);not null;index" json:"member_id"`
	AmountPaid     float64    `gorm:"not null" json:"amount_paid"`
	PaymentDate    time.Time  `gorm:"not null" json:"payment_date"`
	Method         string     `json:"method,omitempty"`
	Note           string     `json:"note,omitempty"`
	RecordedAt     time.Time  `gorm:"not null" json:"recorded_at"`
	PreviousDue    time.Time  `json:"previous_due_date"`
	NewNextDueDate time.Time  `json:"new_next_due_date"`
	CyclesCovered  int        `gorm:"not null;default:1" json:"cycles_covered"`
	InvoiceSent    bool       `gorm:"not null;default:false" json:"invoice_sent"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) RecordID() string   { return p.ID }
func (p *Payment) AssignID(id string) { p.ID = id }

type Plan struct {
	ID          string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Slug        string    `gorm:"not null;index" json:"slug"`
	Price       float64   `gorm:"not null;default:0" json:"price"`
	CycleDays   int       `gorm:"not null;default:30" json:"cycle_days"`
	Description string    `json:"description,omitempty"`
	Active      bool      `gorm:"not null" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `gorm:"index" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// PlanSlug is the key members use to reference a plan by name.
func PlanSlug(name string) string {
	return slug.Make(strings.TrimSpace(name))
}

func (p *Plan) RecordID() string   { return p.ID }
func (p *Plan) AssignID(id string) { p.ID = id }

// Setting is a device preference keyed by name.
type Setting struct {
	Key       string         `gorm:"primaryKey;column:id;type:varchar(64)" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

func (s *Setting) RecordID() string   { return s.Key }
func (s *Setting) AssignID(id string) { s.Key = id }

const (
	SettingGymName          = "gym_name"
	SettingDueSoonWindow    = "due_soon_window_days"
	SettingReminderTemplate = "reminder_template"
	SettingReminderPrefix   = "reminder_sent:"
)
