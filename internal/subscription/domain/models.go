// Package domain contains the subscription state model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus is one of the four local lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// UnpaidAttemptThreshold is the provider attempt count from which a failed
// renewal makes the subscription unpaid rather than past_due.
const UnpaidAttemptThreshold = 3

// Subscription is one purchase of a plan by a user. The most recently
// created row per user is authoritative.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID                 string             `gorm:"type:text;not null;index" json:"user_id"`
	PlanID                 snowflake.ID       `gorm:"not null" json:"plan_id"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	ProviderCustomerID     string             `gorm:"type:text;not null" json:"provider_customer_id"`
	ProviderSubscriptionID string             `gorm:"type:text;not null;index" json:"provider_subscription_id"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt              time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) Live() bool {
	return s.Status != SubscriptionStatusCanceled
}

// Activation carries what a confirmed checkout copies onto the new row.
type Activation struct {
	UserID                 string
	PlanID                 snowflake.ID
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       *time.Time
}

// ProviderSubscription is the payment provider's view of a subscription, as
// delivered by webhooks or returned from management calls.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Deleted           bool
}
