package domain

import (
	"context"
	"encoding/json"
	"time"

	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
)

// Service is the only entry point the UI uses to read and change membership
// data. Writes land locally first and reach the remote service directly or
// through the outbox.
type Service interface {
	ListMembers(ctx context.Context, filter MemberFilter) ([]Member, error)
	GetMember(ctx context.Context, id string) (Member, error)
	UpsertMember(ctx context.Context, member Member) (Result[Member], error)
	RemoveMember(ctx context.Context, id string) (Result[struct{}], error)
	DueMembers(ctx context.Context, statuses ...PaymentStatus) ([]Member, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (Result[PaymentOutcome], error)
	PreviewPayment(ctx context.Context, memberID string, amount float64) (PaymentPreview, error)
	ListPayments(ctx context.Context, memberID string) ([]Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)

	ListPlans(ctx context.Context) ([]Plan, error)
	UpsertPlan(ctx context.Context, plan Plan) (Result[Plan], error)
	RemovePlan(ctx context.Context, id string) (Result[struct{}], error)

	GetSetting(ctx context.Context, key string) (Setting, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) (Setting, error)

	PendingSync(ctx context.Context) ([]outboxdomain.Entry, error)
	FailedSync(ctx context.Context) ([]outboxdomain.Entry, error)
	RetryFailed(ctx context.Context, id string) (outboxdomain.Entry, error)
	Refresh(ctx context.Context) (RefreshSummary, error)

	ExportBackup(ctx context.Context) (Backup, error)
	RestoreBackup(ctx context.Context, backup Backup) (RestoreSummary, error)

	Subscribe(observer Observer) (unsubscribe func())
}

// Result wraps a mutation outcome. Queued means the local write succeeded
// but the remote confirmation is still in the outbox.
type Result[T any] struct {
	Data   T    `json:"data"`
	Queued bool `json:"queued"`
}

type MemberFilter struct {
	Status        MemberStatus
	PaymentStatus PaymentStatus
	Query         string
}

type RecordPaymentRequest struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	AmountPaid  float64   `json:"amount_paid"`
	PaymentDate time.Time `json:"payment_date"`
	Method      string    `json:"method"`
	Note        string    `json:"note"`
}

type PaymentOutcome struct {
	Payment Payment `json:"payment"`
	Member  Member  `json:"member"`
}

type PaymentPreview struct {
	MemberID       string    `json:"member_id"`
	AmountPaid     float64   `json:"amount_paid"`
	CyclesCovered  int       `json:"cycles_covered"`
	PreviousDue    time.Time `json:"previous_due_date"`
	NewNextDueDate time.Time `json:"new_next_due_date"`
}

type RefreshSummary struct {
	MembersInserted int  `json:"members_inserted"`
	MembersUpdated  int  `json:"members_updated"`
	MembersKept     int  `json:"members_kept"`
	MembersDeleted  int  `json:"members_deleted"`
	PlansInserted   int  `json:"plans_inserted"`
	PlansUpdated    int  `json:"plans_updated"`
	PlansKept       int  `json:"plans_kept"`
	PlansDeleted    int  `json:"plans_deleted"`
	Drained         int  `json:"drained"`
	DrainSkipped    bool `json:"drain_skipped"`
}

type RestoreSummary struct {
	Members  int `json:"members"`
	Plans    int `json:"plans"`
	Payments int `json:"payments"`
	Settings int `json:"settings"`
}

type EntityKind string

const (
	KindMember  EntityKind = "member"
	KindPayment EntityKind = "payment"
	KindPlan    EntityKind = "plan"
	KindSetting EntityKind = "setting"
	KindSync    EntityKind = "sync"
)

type ChangeOp string

const (
	ChangeUpsert    ChangeOp = "upsert"
	ChangeDelete    ChangeOp = "delete"
	ChangeRefreshed ChangeOp = "refreshed"
	ChangeRestored  ChangeOp = "restored"
	ChangeConfirmed ChangeOp = "confirmed"
)

type ChangeEvent struct {
	Entity EntityKind `json:"entity"`
	Op     ChangeOp   `json:"op"`
	ID     string     `json:"id,omitempty"`
}

// Observer is told about every committed change. Calls happen after the
// write and must not block.
type Observer interface {
	OnChange(ctx context.Context, event ChangeEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event ChangeEvent)

func (f ObserverFunc) OnChange(ctx context.Context, event ChangeEvent) { f(ctx, event) }
