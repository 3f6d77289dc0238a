package einvoice

import (
	"github.com/shopspring/decimal"
)

// Amount is a monetary value encoded as a bare JSON number with two decimals.
type Amount decimal.Decimal

func NewAmount(d decimal.Decimal) Amount { return Amount(d) }

func (a Amount) Decimal() decimal.Decimal { return decimal.Decimal(a) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}

type Address struct {
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type Party struct {
	VATNumber string   `json:"vatNumber"`
	Country   string   `json:"country"`
	Branch    int      `json:"branch"`
	Name      string   `json:"name,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

type Header struct {
	Series      string `json:"series"`
	AA          string `json:"aa"`
	IssueDate   string `json:"issueDate"`
	InvoiceType string `json:"invoiceType"`
	Currency    string `json:"currency"`
}

type IncomeClassification struct {
	Type     string `json:"classificationType"`
	Category string `json:"classificationCategory"`
	Amount   Amount `json:"amount"`
}

type Line struct {
	LineNumber           int                    `json:"lineNumber"`
	Description          string                 `json:"description,omitempty"`
	NetValue             Amount                 `json:"netValue"`
	VATCategory          int                    `json:"vatCategory"`
	VATAmount            Amount                 `json:"vatAmount"`
	IncomeClassification []IncomeClassification `json:"incomeClassification"`
}

type Summary struct {
	TotalNetValue        Amount                 `json:"totalNetValue"`
	TotalVATAmount       Amount                 `json:"totalVatAmount"`
	TotalGrossValue      Amount                 `json:"totalGrossValue"`
	IncomeClassification []IncomeClassification `json:"incomeClassification"`
}

type VATAnalysis struct {
	VATCategory int    `json:"vatCategory"`
	VATPercent  Amount `json:"vatPercent"`
	NetValue    Amount `json:"netValue"`
	VATAmount   Amount `json:"vatAmount"`
}

// Document is the upload body accepted by the e-invoicing authority.
type Document struct {
	Issuer      Party         `json:"issuer"`
	Counterpart *Party        `json:"counterpart,omitempty"`
	Header      Header        `json:"invoiceHeader"`
	Lines       []Line        `json:"invoiceDetails"`
	Summary     Summary       `json:"invoiceSummary"`
	VATAnalysis []VATAnalysis `json:"vatAnalysis"`
}

// Result is the registration outcome of an accepted document.
type Result struct {
	Mark   string
	UID    string
	Number string
	URL    string
	Raw    []byte
}
