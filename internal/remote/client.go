// Package remote is the client for the gym service REST contract and the
// connectivity monitor that decides when the device is online.
package remote

import (
	"context"
	"time"

	"github.com/smallbiznis/fitdesk/internal/membership/domain"
)

//go:generate mockgen -source=client.go -destination=mock/mock_client.go -package=mock

// Client is the remote service contract. Every error it returns is either
// *apperr.RemoteUnavailableError or *apperr.RemoteRejectedError.
type Client interface {
	Ping(ctx context.Context) error

	ListMembers(ctx context.Context) ([]*domain.Member, error)
	CreateMember(ctx context.Context, member *domain.Member, idempotencyKey string) (*domain.Member, error)
	UpdateMember(ctx context.Context, member *domain.Member, idempotencyKey string) (*domain.Member, error)
	DeleteMember(ctx context.Context, id, idempotencyKey string) error

	RecordPayment(ctx context.Context, payment *domain.Payment, idempotencyKey string) (*PaymentReceipt, error)

	ListPlans(ctx context.Context) ([]*domain.Plan, error)
	CreatePlan(ctx context.Context, plan *domain.Plan, idempotencyKey string) (*domain.Plan, error)
	UpdatePlan(ctx context.Context, plan *domain.Plan, idempotencyKey string) (*domain.Plan, error)
	DeletePlan(ctx context.Context, id, idempotencyKey string) error
}

// PaymentReceipt is the remote confirmation of a recorded payment.
type PaymentReceipt struct {
	AmountPaid     float64
	NewNextDueDate *time.Time
	InvoiceSent    bool
}
