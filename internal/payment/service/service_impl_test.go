package service_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/fiscalsync/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/fiscalsync/internal/payment/repository"
	paymentservice "github.com/smallbiznis/fiscalsync/internal/payment/service"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
)

const secret = "whsec_gateway"

type fakeInvoices struct {
	invoicedomain.Service

	mu       sync.Mutex
	sessions []string
	err      error
}

func (f *fakeInvoices) Issue(_ context.Context, sessionID string) (invoicedomain.IssueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return invoicedomain.IssueResult{}, f.err
	}
	return invoicedomain.IssueResult{Invoice: invoicedomain.Invoice{CheckoutSessionID: sessionID}}, nil
}

type subscriptionCall struct {
	kind    string
	subID   string
	attempt int64
	remote  subscriptiondomain.ProviderSubscription
}

type fakeSubscriptions struct {
	subscriptiondomain.Service

	mu    sync.Mutex
	calls []subscriptionCall
	err   error
}

func (f *fakeSubscriptions) record(c subscriptionCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSubscriptions) ApplyPaymentFailed(_ context.Context, id string, attempt int64) error {
	return f.record(subscriptionCall{kind: "failed", subID: id, attempt: attempt})
}

func (f *fakeSubscriptions) ApplyPaymentSucceeded(_ context.Context, id string) error {
	return f.record(subscriptionCall{kind: "succeeded", subID: id})
}

func (f *fakeSubscriptions) ApplyProviderSync(_ context.Context, remote subscriptiondomain.ProviderSubscription) error {
	return f.record(subscriptionCall{kind: "sync", subID: remote.ID, remote: remote})
}

type fixture struct {
	db            *gorm.DB
	gateway       paymentdomain.Gateway
	invoices      *fakeInvoices
	subscriptions *fakeSubscriptions
	clock         *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	invoices := &fakeInvoices{}
	subscriptions := &fakeSubscriptions{}
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	gateway := paymentservice.NewService(paymentservice.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         testutil.Node(t),
		Clock:         clk,
		Repo:          paymentrepo.Provide(),
		Adapter:       stripe.NewAdapter(secret),
		Invoices:      invoices,
		Subscriptions: subscriptions,
	})
	return &fixture{db: db, gateway: gateway, invoices: invoices, subscriptions: subscriptions, clock: clk}
}

func sign(payload []byte, key string) http.Header {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    key,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", sp.Header)
	return h
}

func (f *fixture) events(t *testing.T) (total, processed int64) {
	t.Helper()
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&total).Error)
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error)
	return total, processed
}

const checkoutEvent = `{"id":"evt_cs_1","object":"event","type":"checkout.session.completed","created":1777626000,
	"data":{"object":{"id":"cs_1","object":"checkout.session","mode":"subscription","payment_status":"paid"}}}`

func TestHandleRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	payload := []byte(checkoutEvent)

	err := f.gateway.Handle(context.Background(), payload, sign(payload, "whsec_wrong"))
	require.Error(t, err)
	assert.True(t, ierr.IsAuthentication(err))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature))

	total, _ := f.events(t)
	assert.Zero(t, total)
	assert.Empty(t, f.invoices.sessions)
}

func TestHandleCheckoutIssuesInvoice(t *testing.T) {
	f := newFixture(t)
	payload := []byte(checkoutEvent)

	require.NoError(t, f.gateway.Handle(context.Background(), payload, sign(payload, secret)))
	assert.Equal(t, []string{"cs_1"}, f.invoices.sessions)

	total, processed := f.events(t)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), processed)
}

func TestHandleDuplicateIsAcknowledgedWithoutRerun(t *testing.T) {
	f := newFixture(t)
	payload := []byte(checkoutEvent)

	require.NoError(t, f.gateway.Handle(context.Background(), payload, sign(payload, secret)))
	err := f.gateway.Handle(context.Background(), payload, sign(payload, secret))
	assert.True(t, errors.Is(err, paymentdomain.ErrEventAlreadyProcessed))
	assert.True(t, paymentdomain.Acknowledged(err))
	assert.Len(t, f.invoices.sessions, 1)
}

func TestHandleFailureLeavesEventOpenForRedelivery(t *testing.T) {
	f := newFixture(t)
	payload := []byte(checkoutEvent)
	f.invoices.err = ierr.NewError("stripe unavailable").Mark(ierr.ErrExternalProvider)

	err := f.gateway.Handle(context.Background(), payload, sign(payload, secret))
	require.Error(t, err)
	assert.False(t, paymentdomain.Acknowledged(err))
	total, processed := f.events(t)
	assert.Equal(t, int64(1), total)
	assert.Zero(t, processed)

	f.invoices.err = nil
	require.NoError(t, f.gateway.Handle(context.Background(), payload, sign(payload, secret)))
	assert.Len(t, f.invoices.sessions, 2)
	_, processed = f.events(t)
	assert.Equal(t, int64(1), processed)
}

func TestHandleAcknowledgesRejectedSession(t *testing.T) {
	f := newFixture(t)
	payload := []byte(checkoutEvent)
	f.invoices.err = ierr.WithError(invoicedomain.ErrSessionNotPaid).Mark(ierr.ErrValidation)

	require.NoError(t, f.gateway.Handle(context.Background(), payload, sign(payload, secret)))
	_, processed := f.events(t)
	assert.Equal(t, int64(1), processed)
}

func TestHandleIgnoresUnroutedEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown type", `{"id":"evt_x","object":"event","type":"charge.refunded","data":{"object":{}}}`},
		{"unpaid checkout", `{"id":"evt_u","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_u","mode":"subscription","payment_status":"unpaid"}}}`},
		{"one-time checkout", `{"id":"evt_p","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_p","mode":"payment","payment_status":"paid"}}}`},
		{"invoice without subscription", `{"id":"evt_i","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			payload := []byte(tt.payload)
			err := f.gateway.Handle(context.Background(), payload, sign(payload, secret))
			assert.True(t, errors.Is(err, paymentdomain.ErrEventIgnored))
			assert.True(t, paymentdomain.Acknowledged(err))
			total, _ := f.events(t)
			assert.Zero(t, total)
			assert.Empty(t, f.invoices.sessions)
			assert.Empty(t, f.subscriptions.calls)
		})
	}
}

func TestHandleRoutesSubscriptionEvents(t *testing.T) {
	f := newFixture(t)
	deliveries := []string{
		`{"id":"evt_f","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","subscription":"sub_1","attempt_count":3}}}`,
		`{"id":"evt_p","object":"event","type":"invoice.paid","data":{"object":{"id":"in_2","parent":{"subscription_details":{"subscription":"sub_1"}}}}}`,
		`{"id":"evt_s","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_3","subscription":"sub_1"}}}`,
		`{"id":"evt_u","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","status":"active","cancel_at_period_end":true,"items":{"data":[{"current_period_end":1780000000}]}}}}`,
		`{"id":"evt_d","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"active"}}}`,
	}
	for _, d := range deliveries {
		payload := []byte(d)
		require.NoError(t, f.gateway.Handle(context.Background(), payload, sign(payload, secret)))
	}

	calls := f.subscriptions.calls
	require.Len(t, calls, 5)
	assert.Equal(t, subscriptionCall{kind: "failed", subID: "sub_1", attempt: 3}, calls[0])
	assert.Equal(t, "succeeded", calls[1].kind)
	assert.Equal(t, "sub_1", calls[1].subID)
	assert.Equal(t, "succeeded", calls[2].kind)
	assert.Equal(t, "sync", calls[3].kind)
	assert.True(t, calls[3].remote.CancelAtPeriodEnd)
	require.NotNil(t, calls[3].remote.CurrentPeriodEnd)
	assert.Equal(t, int64(1780000000), calls[3].remote.CurrentPeriodEnd.Unix())
	assert.True(t, calls[4].remote.Deleted)

	total, processed := f.events(t)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(5), processed)
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_m","object":"event","type":"customer.subscription.updated","data":{"object":{"status":"active"}}}`)

	err := f.gateway.Handle(context.Background(), payload, sign(payload, secret))
	assert.True(t, ierr.IsValidation(err))
	total, _ := f.events(t)
	assert.Zero(t, total)
}
