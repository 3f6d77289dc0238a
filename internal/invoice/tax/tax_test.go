package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	vat24 := decimal.NewFromInt(24)

	tests := []struct {
		name  string
		kind  Kind
		cents int64
		pct   decimal.Decimal
		net   string
		vat   string
		gross string
	}{
		{name: "receipt inclusive", kind: KindReceipt, cents: 2000, pct: vat24, net: "16.13", vat: "3.87", gross: "20.00"},
		{name: "invoice exclusive", kind: KindInvoice, cents: 2000, pct: vat24, net: "20.00", vat: "4.80", gross: "24.80"},
		{name: "receipt rounding", kind: KindReceipt, cents: 999, pct: vat24, net: "8.06", vat: "1.93", gross: "9.99"},
		{name: "invoice rounding", kind: KindInvoice, cents: 1999, pct: vat24, net: "19.99", vat: "4.80", gross: "24.79"},
		{name: "zero rate", kind: KindReceipt, cents: 2000, pct: decimal.Zero, net: "20.00", vat: "0.00", gross: "20.00"},
		{name: "reduced rate", kind: KindReceipt, cents: 1300, pct: decimal.NewFromInt(13), net: "11.50", vat: "1.50", gross: "13.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.kind, tt.cents, tt.pct)
			assert.Equal(t, tt.net, got.Net.StringFixed(2))
			assert.Equal(t, tt.vat, got.VAT.StringFixed(2))
			assert.Equal(t, tt.gross, got.Gross.StringFixed(2))
		})
	}
}

func TestKindForSeries(t *testing.T) {
	assert.Equal(t, KindInvoice, KindForSeries("TPY", "TPY"))
	assert.Equal(t, KindInvoice, KindForSeries(" tpy", "TPY"))
	assert.Equal(t, KindReceipt, KindForSeries("APY", "TPY"))
	assert.Equal(t, KindReceipt, KindForSeries("TPY", ""))
}
