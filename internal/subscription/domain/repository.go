package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// CancelLive cancels every non-canceled row of the user.
	CancelLive(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error)
	FindLatestByUser(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, providerSubscriptionID string) ([]Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, now time.Time) error
	Sync(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, cancelAtPeriodEnd bool, currentPeriodEnd *time.Time, now time.Time) error
}
