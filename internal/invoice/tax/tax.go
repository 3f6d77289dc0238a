// Package tax splits a charged amount into net and VAT parts.
package tax

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind selects how the charged amount relates to VAT.
type Kind int

const (
	// KindReceipt treats the amount as VAT-inclusive.
	KindReceipt Kind = iota
	// KindInvoice treats the amount as net.
	KindInvoice
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type Breakdown struct {
	Net        decimal.Decimal
	VAT        decimal.Decimal
	Gross      decimal.Decimal
	VATPercent decimal.Decimal
}

// KindForSeries returns KindInvoice for the configured invoice series and
// KindReceipt for anything else.
func KindForSeries(series, invoiceSeries string) Kind {
	if invoiceSeries != "" && strings.EqualFold(strings.TrimSpace(series), strings.TrimSpace(invoiceSeries)) {
		return KindInvoice
	}
	return KindReceipt
}

// FromCents converts minor units to a two-decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Compute rounds net and VAT to two decimals. Gross always equals net + VAT.
func Compute(kind Kind, amountCents int64, vatPercent decimal.Decimal) Breakdown {
	amount := FromCents(amountCents)
	rate := vatPercent.Div(hundred)

	var net, vat decimal.Decimal
	switch kind {
	case KindInvoice:
		net = amount
		vat = net.Mul(rate).Round(2)
	default:
		net = amount.Div(one.Add(rate)).Round(2)
		vat = amount.Sub(net)
	}

	return Breakdown{
		Net:        net,
		VAT:        vat,
		Gross:      net.Add(vat),
		VATPercent: vatPercent,
	}
}
