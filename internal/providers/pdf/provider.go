package pdf

import (
	"context"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// ReceiptData is the printable view of one recorded payment.
type ReceiptData struct {
	GymName       string
	ReceiptNumber string
	MemberName    string
	MemberEmail   string
	PaymentDate   time.Time
	AmountPaid    float64
	Method        string
	Note          string
	CyclesCovered int
	PreviousDue   time.Time
	NextDue       time.Time
	Pending       bool
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	return nil, nil
}
