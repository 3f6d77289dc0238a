package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

const sessionJSON = `{
	"id": "cs_1",
	"object": "checkout.session",
	"mode": "subscription",
	"payment_status": "paid",
	"client_reference_id": "user-1",
	"amount_total": 2000,
	"currency": "eur",
	"metadata": {"plan": "Premium"},
	"customer": "cus_1",
	"invoice": "in_1",
	"customer_details": {
		"email": "buyer@example.test",
		"name": "Acme GmbH",
		"address": {"country": "DE", "city": "Berlin", "postal_code": "10115"},
		"tax_ids": [{"type": "eu_vat", "value": "DE811907980"}]
	},
	"subscription": {
		"id": "sub_1",
		"object": "subscription",
		"status": "active",
		"customer": "cus_1",
		"cancel_at_period_end": false,
		"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "current_period_end": 1780000000}]}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{}
	cfg.Stripe.SecretKey = "sk_test_123"
	cfg.Stripe.APIBase = srv.URL
	cfg.Stripe.Timeout = 2 * time.Second
	return New(Params{Config: cfg, Log: zap.NewNop()})
}

func TestPurchaseFromSession(t *testing.T) {
	var session stripego.CheckoutSession
	require.NoError(t, json.Unmarshal([]byte(sessionJSON), &session))

	p := PurchaseFromSession(&session)
	assert.Equal(t, "cs_1", p.SessionID)
	assert.True(t, p.Paid)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, int64(2000), p.AmountCents)
	assert.Equal(t, "eur", p.Currency)
	assert.Equal(t, "Premium", p.PlanName)
	assert.Equal(t, "cus_1", p.ProviderCustomerID)
	assert.Equal(t, "sub_1", p.ProviderSubscriptionID)
	assert.Equal(t, "in_1", p.ProviderInvoiceID)
	require.NotNil(t, p.CurrentPeriodEnd)
	assert.Equal(t, int64(1780000000), p.CurrentPeriodEnd.Unix())
	assert.Equal(t, "buyer@example.test", p.Customer.Email)
	assert.Equal(t, "DE811907980", p.Customer.VATNumber)
	assert.Equal(t, "DE", p.Customer.Country)
	assert.Equal(t, "10115", p.Customer.PostalCode)
}

func TestPurchaseFromSessionFallbacks(t *testing.T) {
	var session stripego.CheckoutSession
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "cs_2",
		"mode": "subscription",
		"payment_status": "unpaid",
		"metadata": {"user_id": "user-2"},
		"subscription": "sub_2"
	}`), &session))

	p := PurchaseFromSession(&session)
	assert.False(t, p.Paid)
	assert.Equal(t, "user-2", p.UserID)
	assert.Equal(t, "sub_2", p.ProviderSubscriptionID)
	assert.Empty(t, p.PlanName)
	assert.Nil(t, p.CurrentPeriodEnd)
	assert.Empty(t, p.Customer.VATNumber)
}

func TestResolveExpandsSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "subscription")
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sk_test_123"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sessionJSON))
	})

	p, err := c.Resolve(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", p.ProviderSubscriptionID)
	assert.True(t, p.Paid)
}

func TestResolveUnknownSessionIsValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session: 'cs_x'"}}`))
	})

	_, err := c.Resolve(context.Background(), "cs_x")
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestSetCancelAtPeriodEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"active","customer":"cus_1","cancel_at_period_end":true,
			"items":{"object":"list","data":[{"id":"si_1","current_period_end":1780000000}]}}`))
	})

	sub, err := c.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestPortalURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "https://app.example.test/billing", r.PostForm.Get("return_url"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.test/p/session"}`))
	})

	url, err := c.PortalURL(context.Background(), "cus_1", "https://app.example.test/billing")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/p/session", url)
}

func TestProviderFailureIsExternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad customer"}}`))
	})

	_, err := c.PortalURL(context.Background(), "cus_1", "https://app.example.test")
	require.Error(t, err)
	assert.True(t, ierr.IsExternalProvider(err))
}
