package server

import (
	"time"

	"github.com/samber/lo"

	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
)

type invoiceView struct {
	ID             string    `json:"id"`
	Series         string    `json:"series"`
	Year           int       `json:"year"`
	Number         int64     `json:"aa"`
	Status         string    `json:"status"`
	PlanCode       string    `json:"plan_code"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	ProviderMark   string    `json:"mark,omitempty"`
	ProviderNumber string    `json:"provider_number,omitempty"`
	DocumentURL    string    `json:"document_url,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

func newInvoiceView(inv invoicedomain.Invoice) invoiceView {
	return invoiceView{
		ID:             inv.ID.String(),
		Series:         inv.Series,
		Year:           inv.Year,
		Number:         inv.AA,
		Status:         string(inv.Status),
		PlanCode:       inv.PlanCode,
		AmountCents:    inv.AmountCents,
		Currency:       inv.Currency,
		ProviderMark:   inv.ProviderMark,
		ProviderNumber: inv.ProviderNumber,
		DocumentURL:    inv.DocumentURL,
		IssuedAt:       inv.IssuedAt,
	}
}

func newInvoiceViews(items []invoicedomain.Invoice) []invoiceView {
	return lo.Map(items, func(inv invoicedomain.Invoice, _ int) invoiceView {
		return newInvoiceView(inv)
	})
}
