package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/subscription/domain"
	"github.com/smallbiznis/fiscalsync/internal/subscription/repository"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
)

type fakeProvider struct {
	err        error
	calls      int
	cancelArgs []bool
	periodEnd  time.Time
	portal     string
}

func (f *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (domain.ProviderSubscription, error) {
	f.calls++
	f.cancelArgs = append(f.cancelArgs, cancel)
	if f.err != nil {
		return domain.ProviderSubscription{}, f.err
	}
	end := f.periodEnd
	return domain.ProviderSubscription{
		ID:                id,
		Status:            "active",
		CancelAtPeriodEnd: cancel,
		CurrentPeriodEnd:  &end,
	}, nil
}

func (f *fakeProvider) PortalURL(_ context.Context, customerID, returnURL string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.portal + "?customer=" + customerID, nil
}

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	provider *fakeProvider
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	require.NoError(t, db.Exec(
		`INSERT INTO plans (id, name, display_name, price_cents, currency, features, created_at, updated_at)
		 VALUES (1, 'premium', 'Premium', 2000, 'EUR', '{}', ?, ?)`,
		time.Now().UTC(), time.Now().UTC(),
	).Error)

	provider := &fakeProvider{
		periodEnd: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		portal:    "https://billing.example.test/session",
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    testutil.Node(t),
		Clock:    clk,
		Repo:     repository.Provide(),
		Provider: provider,
	})
	return &fixture{db: db, svc: svc, provider: provider, clock: clk}
}

func (f *fixture) activate(t *testing.T, userID, providerSubID string) domain.Subscription {
	t.Helper()
	var sub domain.Subscription
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = f.svc.ActivateTx(context.Background(), tx, domain.Activation{
			UserID:                 userID,
			PlanID:                 1,
			ProviderCustomerID:     "cus_" + userID,
			ProviderSubscriptionID: providerSubID,
		})
		return err
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return sub
}

func (f *fixture) statuses(t *testing.T, userID string) map[string]int {
	t.Helper()
	var rows []domain.Subscription
	require.NoError(t, f.db.Raw(`SELECT id, status FROM subscriptions WHERE user_id = ?`, userID).Scan(&rows).Error)
	out := map[string]int{}
	for _, row := range rows {
		out[string(row.Status)]++
	}
	return out
}

func TestActivateSupersedesLiveRows(t *testing.T) {
	f := newFixture(t)

	f.activate(t, "u1", "sub_1")
	require.NoError(t, f.svc.ApplyPaymentFailed(context.Background(), "sub_1", 1))
	latest := f.activate(t, "u1", "sub_2")

	require.Equal(t, map[string]int{"active": 1, "canceled": 1}, f.statuses(t, "u1"))

	current, err := f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, latest.ID, current.ID)
	require.Equal(t, "sub_2", current.ProviderSubscriptionID)
}

func TestApplyPaymentFailedMapsAttemptCount(t *testing.T) {
	cases := []struct {
		attempts int64
		want     domain.SubscriptionStatus
	}{
		{attempts: 1, want: domain.SubscriptionStatusPastDue},
		{attempts: 2, want: domain.SubscriptionStatusPastDue},
		{attempts: 3, want: domain.SubscriptionStatusUnpaid},
		{attempts: 4, want: domain.SubscriptionStatusUnpaid},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.activate(t, "u1", "sub_1")

		require.NoError(t, f.svc.ApplyPaymentFailed(context.Background(), "sub_1", tc.attempts))

		current, err := f.svc.Current(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, tc.want, current.Status, "attempt_count=%d", tc.attempts)
	}
}

func TestApplyPaymentSucceededRestoresActive(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_1")

	require.NoError(t, f.svc.ApplyPaymentFailed(context.Background(), "sub_1", 3))
	require.NoError(t, f.svc.ApplyPaymentSucceeded(context.Background(), "sub_1"))
	// Redelivery is harmless.
	require.NoError(t, f.svc.ApplyPaymentSucceeded(context.Background(), "sub_1"))

	current, err := f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, current.Status)
}

func TestApplyProviderSyncCopiesPeriodFields(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_1")
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{
		ID:                "sub_1",
		Status:            "trialing",
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  &end,
	}))

	current, err := f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, current.Status)
	require.True(t, current.CancelAtPeriodEnd)
	require.NotNil(t, current.CurrentPeriodEnd)
	require.True(t, end.Equal(*current.CurrentPeriodEnd))

	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{
		ID:      "sub_1",
		Status:  "active",
		Deleted: true,
	}))
	current, err = f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusCanceled, current.Status)
}

func TestProviderEventDoesNotResurrectSupersededRow(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_old")
	f.activate(t, "u1", "sub_new")

	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{
		ID:     "sub_old",
		Status: "active",
	}))

	require.Equal(t, map[string]int{"active": 1, "canceled": 1}, f.statuses(t, "u1"))
}

func TestLateRenewalEventsDoNotReviveDeletedSubscription(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_1")

	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{
		ID:      "sub_1",
		Status:  "canceled",
		Deleted: true,
	}))
	require.NoError(t, f.svc.ApplyPaymentSucceeded(context.Background(), "sub_1"))
	require.NoError(t, f.svc.ApplyPaymentFailed(context.Background(), "sub_1", 1))
	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{
		ID:     "sub_1",
		Status: "active",
	}))

	current, err := f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusCanceled, current.Status)
	require.Equal(t, map[string]int{"canceled": 1}, f.statuses(t, "u1"))

	// A new checkout still starts a fresh active row.
	f.activate(t, "u1", "sub_2")
	require.Equal(t, map[string]int{"active": 1, "canceled": 1}, f.statuses(t, "u1"))
}

func TestProviderEventForUnknownSubscriptionIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.ApplyPaymentFailed(context.Background(), "sub_missing", 2))

	err := f.svc.ApplyPaymentSucceeded(context.Background(), " ")
	require.True(t, ierr.IsValidation(err))
}

func TestCancelAndResumeResyncFromProvider(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_1")

	canceled, err := f.svc.CancelAtPeriodEnd(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, canceled.CancelAtPeriodEnd)
	require.NotNil(t, canceled.CurrentPeriodEnd)
	require.True(t, f.provider.periodEnd.Equal(*canceled.CurrentPeriodEnd))
	require.Equal(t, domain.SubscriptionStatusActive, canceled.Status)

	resumed, err := f.svc.Resume(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, resumed.CancelAtPeriodEnd)
	require.Equal(t, []bool{true, false}, f.provider.cancelArgs)
}

func TestCancelProviderFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.activate(t, "u1", "sub_1")
	f.provider.err = errors.New("stripe: connection reset")

	_, err := f.svc.CancelAtPeriodEnd(context.Background(), "u1")
	require.Error(t, err)
	require.True(t, ierr.IsExternalProvider(err))

	after, err := f.svc.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, before.CancelAtPeriodEnd, after.CancelAtPeriodEnd)
	require.Equal(t, before.Status, after.Status)
	require.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestManagementRequiresLiveSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelAtPeriodEnd(context.Background(), "nobody")
	require.True(t, ierr.IsNotFound(err))

	f.activate(t, "u1", "sub_1")
	require.NoError(t, f.svc.ApplyProviderSync(context.Background(), domain.ProviderSubscription{ID: "sub_1", Status: "canceled"}))

	_, err = f.svc.Resume(context.Background(), "u1")
	require.True(t, ierr.IsNotFound(err))
	_, err = f.svc.PortalURL(context.Background(), "u1", "https://app.example.test/billing")
	require.True(t, ierr.IsNotFound(err))
	require.Zero(t, f.provider.calls)
}

func TestPortalURL(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "u1", "sub_1")

	_, err := f.svc.PortalURL(context.Background(), "u1", "not a url")
	require.True(t, ierr.IsValidation(err))

	url, err := f.svc.PortalURL(context.Background(), "u1", "https://app.example.test/billing")
	require.NoError(t, err)
	require.Equal(t, "https://billing.example.test/session?customer=cus_u1", url)

	f.provider.err = errors.New("timeout")
	_, err = f.svc.PortalURL(context.Background(), "u1", "https://app.example.test/billing")
	require.True(t, ierr.IsExternalProvider(err))
}
