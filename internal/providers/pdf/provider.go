package pdf

import "context"

// ReceiptData is the printable view of an issued fiscal document.
type ReceiptData struct {
	Title          string
	IssuerName     string
	IssuerVAT      string
	DocumentNumber string
	IssueDate      string
	Mark           string
	DocumentURL    string

	CustomerName  string
	CustomerEmail string
	CustomerVAT   string

	Items []ReceiptItem

	Currency   string
	Net        string
	VAT        string
	VATPercent string
	Total      string
}

type ReceiptItem struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	return nil, nil
}
