// Package domain contains persistence models for fiscal documents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents the upload lifecycle of a fiscal document.
type InvoiceStatus string

const (
	InvoiceStatusPendingUpload InvoiceStatus = "PENDING_UPLOAD"
	InvoiceStatusCompleted     InvoiceStatus = "COMPLETED"
	InvoiceStatusFailed        InvoiceStatus = "FAILED"
)

// MaxUploadAttempts bounds how many failed uploads a document may accumulate
// before it is left FAILED for manual follow-up.
const MaxUploadAttempts = 3

// Invoice is a numbered fiscal document issued for one checkout session.
type Invoice struct {
	ID                snowflake.ID   `gorm:"primaryKey"`
	UserID            string         `gorm:"type:text;not null;index"`
	SubscriptionID    snowflake.ID   `gorm:"not null"`
	PlanID            snowflake.ID   `gorm:"not null"`
	PlanCode          string         `gorm:"type:text;not null"`
	CheckoutSessionID string         `gorm:"type:text;not null;uniqueIndex"`
	ProviderInvoiceID string         `gorm:"type:text;not null;default:''"`
	AmountCents       int64          `gorm:"not null"`
	Currency          string         `gorm:"type:text;not null"`
	Series            string         `gorm:"type:text;not null"`
	Year              int            `gorm:"not null"`
	AA                int64          `gorm:"column:aa;not null"`
	Status            InvoiceStatus  `gorm:"type:text;not null"`
	Retries           int            `gorm:"not null;default:0"`
	CustomerEmail     string         `gorm:"type:text;not null;default:''"`
	CustomerName      string         `gorm:"type:text;not null;default:''"`
	CustomerVATNumber string         `gorm:"column:customer_vat_number;type:text;not null;default:''"`
	CustomerCountry   string         `gorm:"type:text;not null;default:''"`
	CustomerCity      string         `gorm:"type:text;not null;default:''"`
	CustomerPostal    string         `gorm:"column:customer_postal_code;type:text;not null;default:''"`
	ProviderMark      string         `gorm:"type:text;not null;default:''"`
	ProviderUID       string         `gorm:"column:provider_uid;type:text;not null;default:''"`
	ProviderNumber    string         `gorm:"type:text;not null;default:''"`
	DocumentURL       string         `gorm:"column:document_url;type:text;not null;default:''"`
	LastError         string         `gorm:"type:text;not null;default:''"`
	ProviderResponse  datatypes.JSON `gorm:"type:jsonb"`
	LockedUntil       *time.Time
	IssuedAt          time.Time `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// Retryable reports whether the sweep may pick the document up at now.
func (i Invoice) Retryable(now time.Time) bool {
	if i.Status == InvoiceStatusCompleted || i.Retries >= MaxUploadAttempts {
		return false
	}
	return i.LockedUntil == nil || i.LockedUntil.Before(now)
}

// Counterpart is the buyer as captured at checkout.
type Counterpart struct {
	Email      string
	Name       string
	VATNumber  string
	Country    string
	City       string
	PostalCode string
}

// Purchase is a checkout session as reported by the payment provider.
type Purchase struct {
	SessionID              string
	Paid                   bool
	UserID                 string
	AmountCents            int64
	Currency               string
	PlanName               string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderInvoiceID      string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       *time.Time
	Customer               Counterpart
}

// IssueResult tells the caller which path an issuance took. Replayed means
// the session already had a completed document; Deferred means a document
// exists but its upload belongs to the retry sweep.
type IssueResult struct {
	Invoice  Invoice
	Replayed bool
	Deferred bool
}

// Completion is the provider registration stored on success.
type Completion struct {
	Mark        string
	UID         string
	Number      string
	DocumentURL string
	Response    datatypes.JSON
}
