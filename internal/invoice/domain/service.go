package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/providers/einvoice"
)

type Repository interface {
	// InsertIfAbsent reports false when the checkout session already has a document.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, inv *Invoice) (bool, error)
	FindBySession(ctx context.Context, db *gorm.DB, sessionID string) (*Invoice, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListRetryable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Invoice, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Invoice, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, leaseUntil time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, completion Completion, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) (bool, error)
}

type Service interface {
	// Issue creates, numbers and uploads the document for a paid checkout
	// session. Upload failures never surface as errors.
	Issue(ctx context.Context, sessionID string) (IssueResult, error)
	// Confirm is Issue on behalf of the session owner.
	Confirm(ctx context.Context, userID, sessionID string) (IssueResult, error)
	// Retry claims a retryable document and runs one upload attempt. It
	// reports false when another worker holds the document.
	Retry(ctx context.Context, id snowflake.ID) (bool, error)
	ListRetryable(ctx context.Context, limit int) ([]Invoice, error)
	ListForUser(ctx context.Context, userID string) ([]Invoice, error)
}

// PurchaseResolver loads checkout sessions from the payment provider.
type PurchaseResolver interface {
	Resolve(ctx context.Context, sessionID string) (Purchase, error)
}

// Uploader registers documents with the e-invoicing authority.
type Uploader interface {
	Upload(ctx context.Context, doc einvoice.Document) (einvoice.Result, error)
}

// Notifier is told about every document that reaches COMPLETED. It must
// not block.
type Notifier interface {
	InvoiceIssued(inv Invoice)
}

var (
	ErrInvalidSession = errors.New("invalid_checkout_session")
	ErrSessionNotPaid = errors.New("checkout_session_not_paid")
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrNotFound       = errors.New("invoice_not_found")
	ErrIssueRaced     = errors.New("invoice_issue_raced")
	ErrInvalidInvoice = errors.New("invalid_invoice")
	ErrNoSubscription = errors.New("checkout_session_without_subscription")
	ErrUnknownSeries  = errors.New("invoice_series_not_configured")
)
