package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const dateLayout = "02 Jan 2006"

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	gymName := strings.TrimSpace(receipt.GymName)
	if gymName == "" {
		gymName = "Membership receipt"
	}
	m.AddRow(20,
		text.NewCol(8, gymName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Receipt", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Date paid: "+receipt.PaymentDate.Format(dateLayout), props.Text{Top: 5}),
			text.New("Method: "+orDash(receipt.Method), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Received from", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.MemberName, props.Text{Top: 5}),
			text.New(receipt.MemberEmail, props.Text{Top: 10}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("%s paid on %s", formatAmount(receipt.AmountPaid), receipt.PaymentDate.Format(dateLayout)), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Cycles", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	period := fmt.Sprintf("Membership %s to %s", receipt.PreviousDue.Format(dateLayout), receipt.NextDue.Format(dateLayout))
	m.AddRow(12,
		text.NewCol(6, period, props.Text{Size: 9}),
		text.NewCol(3, fmt.Sprintf("%d", receipt.CyclesCovered), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, formatAmount(receipt.AmountPaid), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Next payment due", props.Text{Size: 9}),
		text.NewCol(3, receipt.NextDue.Format(dateLayout), props.Text{Size: 9, Align: align.Right}),
	)

	if note := strings.TrimSpace(receipt.Note); note != "" {
		m.AddRow(15, text.NewCol(12, note, props.Text{Size: 9, Top: 5}))
	}
	if receipt.Pending {
		m.AddRow(10, text.NewCol(12, "Not yet confirmed by the central office.", props.Text{
			Size:  8,
			Style: fontstyle.Italic,
			Top:   3,
		}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
