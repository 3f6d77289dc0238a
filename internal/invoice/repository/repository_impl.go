package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, user_id, subscription_id, plan_id, plan_code, checkout_session_id,
	provider_invoice_id, amount_cents, currency, series, year, aa, status, retries,
	customer_email, customer_name, customer_vat_number, customer_country, customer_city,
	customer_postal_code, provider_mark, provider_uid, provider_number, document_url,
	last_error, provider_response, locked_until, issued_at, created_at, updated_at`

func (r *repo) InsertIfAbsent(ctx context.Context, conn *gorm.DB, inv *domain.Invoice) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		db.InsertIgnore(conn,
			`INSERT INTO invoices (`+invoiceColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			"checkout_session_id",
		),
		inv.ID,
		inv.UserID,
		inv.SubscriptionID,
		inv.PlanID,
		inv.PlanCode,
		inv.CheckoutSessionID,
		inv.ProviderInvoiceID,
		inv.AmountCents,
		inv.Currency,
		inv.Series,
		inv.Year,
		inv.AA,
		inv.Status,
		inv.Retries,
		inv.CustomerEmail,
		inv.CustomerName,
		inv.CustomerVATNumber,
		inv.CustomerCountry,
		inv.CustomerCity,
		inv.CustomerPostal,
		inv.ProviderMark,
		inv.ProviderUID,
		inv.ProviderNumber,
		inv.DocumentURL,
		inv.LastError,
		nil,
		inv.LockedUntil,
		inv.IssuedAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindBySession(ctx context.Context, conn *gorm.DB, sessionID string) (*domain.Invoice, error) {
	return r.findOne(ctx, conn, `SELECT `+invoiceColumns+` FROM invoices WHERE checkout_session_id = ? LIMIT 1`, sessionID)
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, conn, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ? LIMIT 1`, id)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var item domain.Invoice
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListRetryable(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := conn.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE status IN (?, ?)
		   AND retries < ?
		   AND (locked_until IS NULL OR locked_until < ?)
		 ORDER BY id
		 LIMIT ?`,
		domain.InvoiceStatusPendingUpload,
		domain.InvoiceStatusFailed,
		domain.MaxUploadAttempts,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByUser(ctx context.Context, conn *gorm.DB, userID string, limit int) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := conn.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim takes the upload lease if the document is still retryable. Exactly
// one concurrent caller observes true.
func (r *repo) Claim(ctx context.Context, conn *gorm.DB, id snowflake.ID, now, leaseUntil time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET locked_until = ?, updated_at = ?
		 WHERE id = ?
		   AND status IN (?, ?)
		   AND retries < ?
		   AND (locked_until IS NULL OR locked_until < ?)`,
		leaseUntil,
		now,
		id,
		domain.InvoiceStatusPendingUpload,
		domain.InvoiceStatusFailed,
		domain.MaxUploadAttempts,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkCompleted(ctx context.Context, conn *gorm.DB, id snowflake.ID, c domain.Completion, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, provider_mark = ?, provider_uid = ?, provider_number = ?,
		     document_url = ?, provider_response = ?, last_error = '', locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.InvoiceStatusCompleted,
		c.Mark,
		c.UID,
		c.Number,
		c.DocumentURL,
		c.Response,
		now,
		id,
		domain.InvoiceStatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkFailed(ctx context.Context, conn *gorm.DB, id snowflake.ID, lastError string, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, retries = retries + 1, last_error = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.InvoiceStatusFailed,
		lastError,
		now,
		id,
		domain.InvoiceStatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
