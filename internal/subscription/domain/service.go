package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Service interface {
	// ActivateTx supersedes the user's live rows and inserts a new active row
	// on the caller's transaction.
	ActivateTx(ctx context.Context, tx *gorm.DB, activation Activation) (Subscription, error)
	ApplyPaymentFailed(ctx context.Context, providerSubscriptionID string, attemptCount int64) error
	ApplyPaymentSucceeded(ctx context.Context, providerSubscriptionID string) error
	ApplyProviderSync(ctx context.Context, sub ProviderSubscription) error

	CancelAtPeriodEnd(ctx context.Context, userID string) (Subscription, error)
	Resume(ctx context.Context, userID string) (Subscription, error)
	PortalURL(ctx context.Context, userID, returnURL string) (string, error)
	Current(ctx context.Context, userID string) (Subscription, error)
}

// BillingProvider is the payment provider's subscription management API.
type BillingProvider interface {
	SetCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool) (ProviderSubscription, error)
	PortalURL(ctx context.Context, providerCustomerID, returnURL string) (string, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrInvalidReturnURL      = errors.New("invalid_return_url")
	ErrNotFound              = errors.New("subscription_not_found")
	ErrNoLiveSubscription    = errors.New("no_live_subscription")
)
