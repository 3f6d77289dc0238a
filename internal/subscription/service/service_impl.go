package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/subscription/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

const (
	triggerActivation       = "activation"
	triggerPaymentFailed    = "payment_failed"
	triggerPaymentSucceeded = "payment_succeeded"
	triggerProviderSync     = "provider_sync"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Provider domain.BillingProvider
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	provider domain.BillingProvider
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		provider: p.Provider,
		metrics:  p.Metrics,
	}
}

func (s *Service) ActivateTx(ctx context.Context, tx *gorm.DB, activation domain.Activation) (domain.Subscription, error) {
	userID := strings.TrimSpace(activation.UserID)
	if userID == "" {
		return domain.Subscription{}, ierr.WithError(domain.ErrInvalidUser).
			WithHint("user is required").
			Mark(ierr.ErrValidation)
	}
	if activation.PlanID == 0 {
		return domain.Subscription{}, ierr.WithError(domain.ErrInvalidPlan).
			WithHint("plan is required").
			Mark(ierr.ErrValidation)
	}

	now := s.clock.Now()
	superseded, err := s.repo.CancelLive(ctx, tx, userID, now)
	if err != nil {
		return domain.Subscription{}, err
	}

	sub := domain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 userID,
		PlanID:                 activation.PlanID,
		Status:                 domain.SubscriptionStatusActive,
		ProviderCustomerID:     strings.TrimSpace(activation.ProviderCustomerID),
		ProviderSubscriptionID: strings.TrimSpace(activation.ProviderSubscriptionID),
		CancelAtPeriodEnd:      activation.CancelAtPeriodEnd,
		CurrentPeriodEnd:       utcPtr(activation.CurrentPeriodEnd),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Insert(ctx, tx, &sub); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Subscription{}, ierr.WithError(err).
				WithMessagef("second live subscription for user %s", userID).
				Mark(ierr.ErrDataIntegrity)
		}
		return domain.Subscription{}, err
	}

	s.log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("provider_subscription_id", sub.ProviderSubscriptionID),
		zap.Int64("superseded", superseded),
	)
	s.metrics.RecordSubscriptionTransition(triggerActivation, string(sub.Status))
	return sub, nil
}

func (s *Service) ApplyPaymentFailed(ctx context.Context, providerSubscriptionID string, attemptCount int64) error {
	status := domain.StatusForFailedAttempt(attemptCount)
	return s.applyByProviderID(ctx, triggerPaymentFailed, providerSubscriptionID,
		func(tx *gorm.DB, sub domain.Subscription, now time.Time) (domain.SubscriptionStatus, error) {
			return status, s.repo.UpdateStatus(ctx, tx, sub.ID, status, now)
		},
	)
}

func (s *Service) ApplyPaymentSucceeded(ctx context.Context, providerSubscriptionID string) error {
	return s.applyByProviderID(ctx, triggerPaymentSucceeded, providerSubscriptionID,
		func(tx *gorm.DB, sub domain.Subscription, now time.Time) (domain.SubscriptionStatus, error) {
			return domain.SubscriptionStatusActive, s.repo.UpdateStatus(ctx, tx, sub.ID, domain.SubscriptionStatusActive, now)
		},
	)
}

func (s *Service) ApplyProviderSync(ctx context.Context, remote domain.ProviderSubscription) error {
	status := domain.MapProviderStatus(remote.Status, remote.Deleted)
	periodEnd := utcPtr(remote.CurrentPeriodEnd)
	return s.applyByProviderID(ctx, triggerProviderSync, remote.ID,
		func(tx *gorm.DB, sub domain.Subscription, now time.Time) (domain.SubscriptionStatus, error) {
			return status, s.repo.Sync(ctx, tx, sub.ID, status, remote.CancelAtPeriodEnd, periodEnd, now)
		},
	)
}

type applyFunc func(tx *gorm.DB, sub domain.Subscription, now time.Time) (domain.SubscriptionStatus, error)

// applyByProviderID runs apply for every row carrying the provider id that
// is still its user's latest row and not yet canceled. Canceled is terminal:
// superseded rows and rows the provider deleted keep their state against
// late deliveries.
func (s *Service) applyByProviderID(ctx context.Context, trigger, providerSubscriptionID string, apply applyFunc) error {
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerSubscriptionID == "" {
		return ierr.WithError(domain.ErrInvalidSubscriptionID).
			WithHint("provider subscription id is required").
			Mark(ierr.ErrValidation)
	}

	var applied []domain.SubscriptionStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.FindByProviderSubscriptionID(ctx, tx, providerSubscriptionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for _, row := range rows {
			latest, err := s.repo.FindLatestByUser(ctx, tx, row.UserID)
			if err != nil {
				return err
			}
			if latest == nil || latest.ID != row.ID {
				s.log.Debug("skipping superseded subscription",
					zap.String("subscription_id", row.ID.String()),
					zap.String("trigger", trigger),
				)
				continue
			}
			if row.Status == domain.SubscriptionStatusCanceled {
				s.log.Debug("skipping canceled subscription",
					zap.String("subscription_id", row.ID.String()),
					zap.String("trigger", trigger),
				)
				continue
			}
			status, err := apply(tx, row, now)
			if err != nil {
				return err
			}
			applied = append(applied, status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		s.log.Warn("provider event matched no live subscription",
			zap.String("provider_subscription_id", providerSubscriptionID),
			zap.String("trigger", trigger),
		)
		return nil
	}
	for _, status := range applied {
		s.metrics.RecordSubscriptionTransition(trigger, string(status))
	}
	s.log.Info("subscription updated from provider",
		zap.String("provider_subscription_id", providerSubscriptionID),
		zap.String("trigger", trigger),
		zap.String("status", string(applied[len(applied)-1])),
	)
	return nil
}

func (s *Service) CancelAtPeriodEnd(ctx context.Context, userID string) (domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, true)
}

func (s *Service) Resume(ctx context.Context, userID string) (domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, false)
}

// setCancelAtPeriodEnd changes nothing locally until the provider confirms,
// then copies the provider's answer verbatim.
func (s *Service) setCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (domain.Subscription, error) {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.ProviderSubscriptionID == "" {
		return domain.Subscription{}, ierr.WithError(domain.ErrNoLiveSubscription).
			WithHint("subscription is not linked to the payment provider").
			Mark(ierr.ErrNotFound)
	}

	remote, err := s.provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID, cancel)
	if err != nil {
		s.log.Warn("provider rejected cancel_at_period_end change",
			zap.String("user_id", sub.UserID),
			zap.Bool("cancel", cancel),
			zap.Error(err),
		)
		return domain.Subscription{}, providerError(err)
	}
	if remote.ID == "" {
		remote.ID = sub.ProviderSubscriptionID
	}
	if err := s.ApplyProviderSync(ctx, remote); err != nil {
		return domain.Subscription{}, err
	}
	return s.Current(ctx, sub.UserID)
}

func (s *Service) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	returnURL = strings.TrimSpace(returnURL)
	if !validReturnURL(returnURL) {
		return "", ierr.WithError(domain.ErrInvalidReturnURL).
			WithHint("return_url must be an absolute http(s) URL").
			Mark(ierr.ErrValidation)
	}

	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID == "" {
		return "", ierr.WithError(domain.ErrNoLiveSubscription).
			WithHint("subscription is not linked to the payment provider").
			Mark(ierr.ErrNotFound)
	}

	portal, err := s.provider.PortalURL(ctx, sub.ProviderCustomerID, returnURL)
	if err != nil {
		return "", providerError(err)
	}
	return portal, nil
}

func (s *Service) Current(ctx context.Context, userID string) (domain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Subscription{}, ierr.WithError(domain.ErrInvalidUser).Mark(ierr.ErrAuthentication)
	}
	sub, err := s.repo.FindLatestByUser(ctx, s.db, userID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub == nil {
		return domain.Subscription{}, ierr.WithError(domain.ErrNotFound).
			WithHint("no subscription found").
			Mark(ierr.ErrNotFound)
	}
	return *sub, nil
}

func (s *Service) liveSubscription(ctx context.Context, userID string) (domain.Subscription, error) {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !sub.Live() {
		return domain.Subscription{}, ierr.WithError(domain.ErrNoLiveSubscription).
			WithHint("no active subscription").
			Mark(ierr.ErrNotFound)
	}
	return sub, nil
}

func providerError(err error) error {
	if ierr.IsExternalProvider(err) {
		return err
	}
	return ierr.WithError(err).
		WithHint("payment provider is unavailable, please retry").
		Mark(ierr.ErrExternalProvider)
}

func validReturnURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
