package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, plan_id, status, provider_customer_id, provider_subscription_id,
	cancel_at_period_end, current_period_end, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.PlanID,
		subscription.Status,
		subscription.ProviderCustomerID,
		subscription.ProviderSubscriptionID,
		subscription.CancelAtPeriodEnd,
		subscription.CurrentPeriodEnd,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) CancelLive(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE user_id = ? AND status <> ?`,
		domain.SubscriptionStatusCanceled,
		now,
		userID,
		domain.SubscriptionStatusCanceled,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) FindLatestByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, providerSubscriptionID string) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE provider_subscription_id = ?
		 ORDER BY id`,
		providerSubscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) Sync(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	status domain.SubscriptionStatus,
	cancelAtPeriodEnd bool,
	currentPeriodEnd *time.Time,
	now time.Time,
) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, cancel_at_period_end = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		cancelAtPeriodEnd,
		currentPeriodEnd,
		now,
		id,
	).Error
}
