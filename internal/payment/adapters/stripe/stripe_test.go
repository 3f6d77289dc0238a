package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	paymentdomain "github.com/smallbiznis/fiscalsync/internal/payment/domain"
)

const testSecret = "whsec_test"

func signed(t *testing.T, secret string, payload []byte, at time.Time) http.Header {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	h := http.Header{}
	h.Set("Stripe-Signature", sp.Header)
	return h
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{}}}`)
	adapter := NewAdapter(testSecret)

	require.NoError(t, adapter.Verify(context.Background(), payload, signed(t, testSecret, payload, time.Now())))

	err := adapter.Verify(context.Background(), payload, signed(t, "whsec_other", payload, time.Now()))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature))

	err = adapter.Verify(context.Background(), payload, signed(t, testSecret, payload, time.Now().Add(-time.Hour)))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature), "stale timestamps are rejected")

	tampered := []byte(`{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	err = adapter.Verify(context.Background(), tampered, signed(t, testSecret, payload, time.Now()))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature))

	err = adapter.Verify(context.Background(), payload, http.Header{})
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature))
}

func TestVerifyWithoutSecretRejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	err := NewAdapter("").Verify(context.Background(), payload, signed(t, "", payload, time.Now()))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidSignature))
}

func TestParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{"id":"evt_cs","type":"checkout.session.completed","created":1767225600,
		"data":{"object":{"id":"cs_1","mode":"subscription","payment_status":"paid"}}}`)

	event, err := NewAdapter(testSecret).Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_cs", event.ProviderEventID)
	assert.Equal(t, paymentdomain.ProviderStripe, event.Provider)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.OccurredAt)
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "cs_1", event.Checkout.SessionID)
	assert.True(t, event.Checkout.Settled())
}

func TestCheckoutSettled(t *testing.T) {
	tests := []struct {
		mode, status string
		want         bool
	}{
		{"subscription", "paid", true},
		{"subscription", "no_payment_required", true},
		{"subscription", "unpaid", false},
		{"payment", "paid", false},
	}
	for _, tt := range tests {
		got := paymentdomain.CheckoutCompleted{Mode: tt.mode, PaymentStatus: tt.status}.Settled()
		assert.Equal(t, tt.want, got, "%s/%s", tt.mode, tt.status)
	}
}

func TestParseInvoiceShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantSub string
		attempt int64
	}{
		{
			name:    "legacy top-level subscription",
			payload: `{"id":"evt_a","type":"invoice.payment_failed","data":{"object":{"id":"in_1","subscription":"sub_1","attempt_count":2}}}`,
			wantSub: "sub_1",
			attempt: 2,
		},
		{
			name:    "expanded subscription object",
			payload: `{"id":"evt_b","type":"invoice.paid","data":{"object":{"id":"in_2","subscription":{"id":"sub_2"},"attempt_count":1}}}`,
			wantSub: "sub_2",
			attempt: 1,
		},
		{
			name:    "parent subscription details",
			payload: `{"id":"evt_c","type":"invoice.payment_failed","data":{"object":{"id":"in_3","parent":{"subscription_details":{"subscription":"sub_3"}},"attempt_count":4}}}`,
			wantSub: "sub_3",
			attempt: 4,
		},
		{
			name:    "one-off invoice",
			payload: `{"id":"evt_d","type":"invoice.payment_succeeded","data":{"object":{"id":"in_4","subscription":null}}}`,
			wantSub: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := NewAdapter(testSecret).Parse(context.Background(), []byte(tt.payload))
			require.NoError(t, err)
			require.NotNil(t, event.Invoice)
			assert.Equal(t, tt.wantSub, event.Invoice.SubscriptionID)
			assert.Equal(t, tt.attempt, event.Invoice.AttemptCount)
		})
	}
}

func TestParseSubscriptionShapes(t *testing.T) {
	legacy := []byte(`{"id":"evt_s1","type":"customer.subscription.updated","data":{"object":{
		"id":"sub_1","customer":"cus_1","status":"past_due","cancel_at_period_end":true,"current_period_end":1767225600}}}`)
	event, err := NewAdapter(testSecret).Parse(context.Background(), legacy)
	require.NoError(t, err)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ID)
	assert.Equal(t, "cus_1", event.Subscription.CustomerID)
	assert.Equal(t, "past_due", event.Subscription.Status)
	assert.True(t, event.Subscription.CancelAtPeriodEnd)
	require.NotNil(t, event.Subscription.CurrentPeriodEnd)
	assert.Equal(t, int64(1767225600), event.Subscription.CurrentPeriodEnd.Unix())
	assert.False(t, event.Subscription.Deleted)

	items := []byte(`{"id":"evt_s2","type":"customer.subscription.deleted","data":{"object":{
		"id":"sub_2","customer":{"id":"cus_2"},"status":"active","items":{"data":[{"current_period_end":1769904000}]}}}}`)
	event, err = NewAdapter(testSecret).Parse(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, "cus_2", event.Subscription.CustomerID)
	require.NotNil(t, event.Subscription.CurrentPeriodEnd)
	assert.Equal(t, int64(1769904000), event.Subscription.CurrentPeriodEnd.Unix())
	assert.True(t, event.Subscription.Deleted)
}

func TestParseRejectsAndIgnores(t *testing.T) {
	adapter := NewAdapter(testSecret)

	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_x","type":"charge.refunded","data":{"object":{}}}`))
	assert.True(t, errors.Is(err, paymentdomain.ErrEventIgnored))

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidPayload))

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"invoice.paid"}`))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidEvent))

	_, err = adapter.Parse(context.Background(), []byte(`{"id":"evt_y","type":"customer.subscription.updated","data":{"object":{"status":"active"}}}`))
	assert.True(t, errors.Is(err, paymentdomain.ErrInvalidEvent))
}
