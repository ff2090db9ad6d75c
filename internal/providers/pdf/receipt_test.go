package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	doc, err := New().GenerateReceipt(context.Background(), ReceiptData{
		GymName:       "Iron Temple",
		ReceiptNumber: "1843",
		MemberName:    "Ana",
		MemberEmail:   "ana@example.com",
		PaymentDate:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		AmountPaid:    100,
		CyclesCovered: 1,
		PreviousDue:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		NextDue:       time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Pending:       true,
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "250.00", formatAmount(250))
	assert.Equal(t, "-", orDash("  "))
}
