package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/config"
	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/invoice/format"
	invoiceservice "github.com/smallbiznis/fiscalsync/internal/invoice/service"
	"github.com/smallbiznis/fiscalsync/internal/invoice/tax"
	"github.com/smallbiznis/fiscalsync/internal/providers/email"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
)

// DocumentNumber prefers the number assigned by the authority.
func DocumentNumber(inv invoicedomain.Invoice, loc *time.Location) string {
	if n := strings.TrimSpace(inv.ProviderNumber); n != "" {
		return n
	}
	n, err := format.FormatDocumentNumber(format.DefaultDocumentNumberTemplate, inv.Series, inv.IssuedAt.In(loc), inv.AA)
	if err != nil {
		return fmt.Sprintf("%s-%d", inv.Series, inv.AA)
	}
	return n
}

func BuildReceipt(cfg config.FiscalConfig, inv invoicedomain.Invoice, loc *time.Location) (pdf.ReceiptData, error) {
	if loc == nil {
		loc = time.UTC
	}
	_, kind, err := invoiceservice.ResolveSeries(cfg, inv.Series)
	if err != nil {
		return pdf.ReceiptData{}, err
	}
	split, err := invoiceservice.Breakdown(cfg, inv)
	if err != nil {
		return pdf.ReceiptData{}, err
	}
	currency := strings.ToUpper(inv.Currency)

	title := "Receipt"
	if kind == tax.KindInvoice {
		title = "Invoice"
	}
	description := inv.PlanCode
	if plan, ok := cfg.PlanDefaults(inv.PlanCode); ok && plan.DisplayName != "" {
		description = plan.DisplayName
	}

	return pdf.ReceiptData{
		Title:          title,
		IssuerName:     cfg.Issuer.Name,
		IssuerVAT:      cfg.Issuer.VATNumber,
		DocumentNumber: DocumentNumber(inv, loc),
		IssueDate:      inv.IssuedAt.In(loc).Format("2006-01-02"),
		Mark:           inv.ProviderMark,
		DocumentURL:    inv.DocumentURL,
		CustomerName:   inv.CustomerName,
		CustomerEmail:  inv.CustomerEmail,
		CustomerVAT:    inv.CustomerVATNumber,
		Items: []pdf.ReceiptItem{{
			Description: description,
			Qty:         1,
			UnitPrice:   split.Net.StringFixed(2),
			Amount:      split.Net.StringFixed(2),
		}},
		Currency:   currency,
		Net:        split.Net.StringFixed(2),
		VAT:        split.VAT.StringFixed(2),
		VATPercent: split.VATPercent.String(),
		Total:      split.Gross.StringFixed(2),
	}, nil
}

func customerMessage(data pdf.ReceiptData, to string, attachment []byte) email.Message {
	subject := fmt.Sprintf("Your %s %s", strings.ToLower(data.Title), data.DocumentNumber)
	text := fmt.Sprintf(
		"Thank you for your payment.\n\n%s: %s\nDate: %s\nTotal: %s %s\nMARK: %s\n",
		data.Title, data.DocumentNumber, data.IssueDate, data.Total, data.Currency, data.Mark,
	)
	if data.DocumentURL != "" {
		text += "Document: " + data.DocumentURL + "\n"
	}
	return withAttachment(email.Message{
		To:       []string{to},
		Subject:  subject,
		TextBody: text,
	}, data, attachment)
}

func ownerMessage(data pdf.ReceiptData, to string, attachment []byte) email.Message {
	customer := data.CustomerEmail
	if data.CustomerName != "" {
		customer = fmt.Sprintf("%s <%s>", data.CustomerName, data.CustomerEmail)
	}
	text := fmt.Sprintf(
		"%s %s issued.\n\nCustomer: %s\nVAT id: %s\nNet: %s\nVAT (%s%%): %s\nTotal: %s %s\nMARK: %s\n",
		data.Title, data.DocumentNumber, customer, data.CustomerVAT,
		data.Net, data.VATPercent, data.VAT, data.Total, data.Currency, data.Mark,
	)
	return withAttachment(email.Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("[fiscalsync] %s %s issued", data.Title, data.DocumentNumber),
		TextBody: text,
	}, data, attachment)
}

func withAttachment(msg email.Message, data pdf.ReceiptData, attachment []byte) email.Message {
	if len(attachment) == 0 {
		return msg
	}
	msg.Attachments = []email.Attachment{{
		Filename:    data.DocumentNumber + ".pdf",
		ContentType: "application/pdf",
		Content:     attachment,
	}}
	return msg
}
