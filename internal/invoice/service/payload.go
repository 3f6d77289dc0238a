package service

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/invoice/tax"
	"github.com/smallbiznis/fiscalsync/internal/providers/einvoice"
)

// SeriesFor picks the invoice series for buyers with a VAT id and the
// receipt series for everyone else.
func SeriesFor(cfg config.FiscalConfig, customer domain.Counterpart) config.SeriesDefinition {
	if strings.TrimSpace(customer.VATNumber) != "" {
		return cfg.Series.Invoice
	}
	return cfg.Series.Receipt
}

// ResolveSeries maps a stored series code back to its configured definition
// and tax kind. A code matching neither configured series is rejected so a
// renamed series never silently flips the VAT treatment of stored rows.
func ResolveSeries(cfg config.FiscalConfig, series string) (config.SeriesDefinition, tax.Kind, error) {
	if tax.KindForSeries(series, cfg.Series.Invoice.Code) == tax.KindInvoice {
		return cfg.Series.Invoice, tax.KindInvoice, nil
	}
	receipt := strings.TrimSpace(cfg.Series.Receipt.Code)
	if receipt != "" && strings.EqualFold(strings.TrimSpace(series), receipt) {
		return cfg.Series.Receipt, tax.KindReceipt, nil
	}
	return config.SeriesDefinition{}, tax.KindReceipt, ierr.WithError(domain.ErrUnknownSeries).
		WithMessagef("series %q matches no configured series", series).
		Mark(ierr.ErrConfiguration)
}

// Breakdown returns the tax split of inv under cfg.
func Breakdown(cfg config.FiscalConfig, inv domain.Invoice) (tax.Breakdown, error) {
	_, kind, err := ResolveSeries(cfg, inv.Series)
	if err != nil {
		return tax.Breakdown{}, err
	}
	return tax.Compute(kind, inv.AmountCents, decimal.NewFromFloat(cfg.VATPercent)), nil
}

// BuildDocument renders inv as an e-invoice upload body.
func BuildDocument(cfg config.FiscalConfig, inv domain.Invoice, loc *time.Location) (einvoice.Document, error) {
	if loc == nil {
		loc = time.UTC
	}
	def, kind, err := ResolveSeries(cfg, inv.Series)
	if err != nil {
		return einvoice.Document{}, err
	}
	split := tax.Compute(kind, inv.AmountCents, decimal.NewFromFloat(cfg.VATPercent))
	invoiceType := def.InvoiceType

	classification := []einvoice.IncomeClassification{{
		Type:     cfg.IncomeClassification.Type,
		Category: cfg.IncomeClassification.Category,
		Amount:   einvoice.NewAmount(split.Net),
	}}

	return einvoice.Document{
		Issuer: einvoice.Party{
			VATNumber: cfg.Issuer.VATNumber,
			Country:   strings.ToUpper(cfg.Issuer.Country),
			Branch:    cfg.Issuer.Branch,
		},
		Counterpart: counterpart(cfg, inv),
		Header: einvoice.Header{
			Series:      inv.Series,
			AA:          strconv.FormatInt(inv.AA, 10),
			IssueDate:   inv.IssuedAt.In(loc).Format("2006-01-02"),
			InvoiceType: invoiceType,
			Currency:    strings.ToUpper(inv.Currency),
		},
		Lines: []einvoice.Line{{
			LineNumber:           1,
			Description:          inv.PlanCode,
			NetValue:             einvoice.NewAmount(split.Net),
			VATCategory:          cfg.VATCategory,
			VATAmount:            einvoice.NewAmount(split.VAT),
			IncomeClassification: classification,
		}},
		Summary: einvoice.Summary{
			TotalNetValue:        einvoice.NewAmount(split.Net),
			TotalVATAmount:       einvoice.NewAmount(split.VAT),
			TotalGrossValue:      einvoice.NewAmount(split.Gross),
			IncomeClassification: classification,
		},
		VATAnalysis: []einvoice.VATAnalysis{{
			VATCategory: cfg.VATCategory,
			VATPercent:  einvoice.NewAmount(split.VATPercent),
			NetValue:    einvoice.NewAmount(split.Net),
			VATAmount:   einvoice.NewAmount(split.VAT),
		}},
	}, nil
}

// counterpart is omitted without a VAT id. Domestic counterparts are sent
// without a name, which the authority resolves from the VAT registry.
func counterpart(cfg config.FiscalConfig, inv domain.Invoice) *einvoice.Party {
	vat := strings.TrimSpace(inv.CustomerVATNumber)
	if vat == "" {
		return nil
	}

	country := normalizeCountry(inv.CustomerCountry)
	if country == "" {
		country = normalizeCountry(cfg.Issuer.Country)
	}

	party := &einvoice.Party{
		VATNumber: stripVATPrefix(vat, country),
		Country:   country,
	}
	if country != normalizeCountry(cfg.Issuer.Country) {
		party.Name = strings.TrimSpace(inv.CustomerName)
	}
	if inv.CustomerCity != "" || inv.CustomerPostal != "" {
		party.Address = &einvoice.Address{
			City:       strings.TrimSpace(inv.CustomerCity),
			PostalCode: strings.TrimSpace(inv.CustomerPostal),
		}
	}
	return party
}

// normalizeCountry maps the EU VAT prefix for Greece onto its ISO code.
func normalizeCountry(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "EL" {
		return "GR"
	}
	return country
}

// stripVATPrefix drops a leading country prefix such as "EL" or "DE".
func stripVATPrefix(vat, country string) string {
	vat = strings.ToUpper(strings.ReplaceAll(vat, " ", ""))
	if len(vat) < 3 {
		return vat
	}
	prefix := vat[:2]
	if !unicode.IsLetter(rune(prefix[0])) || !unicode.IsLetter(rune(prefix[1])) {
		return vat
	}
	if normalizeCountry(prefix) == country || prefix == country {
		return vat[2:]
	}
	return vat
}
