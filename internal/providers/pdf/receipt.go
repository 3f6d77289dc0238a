package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if receipt.DocumentNumber == "" {
		return nil, ierr.NewError("receipt document number is required").Mark(ierr.ErrValidation)
	}
	title := receipt.Title
	if title == "" {
		title = "Receipt"
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.DocumentNumber, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New(receipt.IssuerName, props.Text{Style: fontstyle.Bold}),
			text.New("VAT: "+receipt.IssuerVAT, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Issue date: "+receipt.IssueDate, props.Text{Align: align.Right}),
			text.New("MARK: "+receipt.Mark, props.Text{Top: 5, Align: align.Right}),
		),
	)

	billTo := col.New(12).Add(
		text.New("Bill to", props.Text{Style: fontstyle.Bold}),
		text.New(receipt.CustomerName, props.Text{Top: 5}),
		text.New(receipt.CustomerEmail, props.Text{Top: 10}),
	)
	if receipt.CustomerVAT != "" {
		billTo.Add(text.New("VAT: "+receipt.CustomerVAT, props.Text{Top: 15}))
	}
	m.AddRow(25, billTo)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range receipt.Items {
		m.AddRow(10,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct{ label, value string }{
		{"Net", receipt.Net},
		{fmt.Sprintf("VAT %s%%", receipt.VATPercent), receipt.VAT},
		{"Total " + receipt.Currency, receipt.Total},
	}
	for _, row := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, row.label, props.Text{Size: 9}),
			text.NewCol(2, row.value, props.Text{Size: 9, Align: align.Right}),
		)
	}

	if receipt.DocumentURL != "" {
		m.AddRow(40,
			code.NewQrCol(3, receipt.DocumentURL, props.Rect{Percent: 90}),
			text.NewCol(9, receipt.DocumentURL, props.Text{Size: 7, Top: 15}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("render receipt pdf").Mark(ierr.ErrDataIntegrity)
	}
	return doc.GetBytes(), nil
}
