package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

// EventRecord is the delivery ledger row for one provider event.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const ProviderStripe = "stripe"

const (
	EventTypeCheckoutCompleted           = "checkout.session.completed"
	EventTypeCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
	EventTypeInvoicePaymentFailed        = "invoice.payment_failed"
	EventTypeInvoicePaid                 = "invoice.paid"
	EventTypeInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventTypeSubscriptionUpdated         = "customer.subscription.updated"
	EventTypeSubscriptionDeleted         = "customer.subscription.deleted"
)

// CheckoutCompleted is the part of a checkout session event the gateway routes on.
type CheckoutCompleted struct {
	SessionID     string
	Mode          string
	PaymentStatus string
}

// Settled reports whether the session is a subscription checkout whose
// first payment is done.
func (c CheckoutCompleted) Settled() bool {
	if c.Mode != "subscription" {
		return false
	}
	return c.PaymentStatus == "paid" || c.PaymentStatus == "no_payment_required"
}

// InvoiceEvent is a renewal payment outcome for a subscription.
type InvoiceEvent struct {
	InvoiceID      string
	SubscriptionID string
	AttemptCount   int64
}

// PaymentEvent is the canonical event produced by adapters. Exactly one of
// Checkout, Invoice and Subscription is set.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	OccurredAt      time.Time
	RawPayload      []byte

	Checkout     *CheckoutCompleted
	Invoice      *InvoiceEvent
	Subscription *subscriptiondomain.ProviderSubscription
}
