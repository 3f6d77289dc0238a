package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/smallbiznis/fiscalsync/internal/config"
	paymentdomain "github.com/smallbiznis/fiscalsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

const signatureHeader = "Stripe-Signature"

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func New(cfg config.Config) paymentdomain.Adapter {
	return NewAdapter(cfg.Stripe.WebhookSecret)
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		tolerance:     webhook.DefaultTolerance,
	}
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" || a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ID == "" || event.Type == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            event.Type,
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
	}

	var err error
	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted, paymentdomain.EventTypeCheckoutAsyncPaymentSucceed:
		out.Checkout, err = parseCheckout(event.Data.Object)
	case paymentdomain.EventTypeInvoicePaymentFailed, paymentdomain.EventTypeInvoicePaid, paymentdomain.EventTypeInvoicePaymentSucceeded:
		out.Invoice, err = parseInvoice(event.Data.Object)
	case paymentdomain.EventTypeSubscriptionUpdated, paymentdomain.EventTypeSubscriptionDeleted:
		out.Subscription, err = parseSubscription(event.Data.Object, event.Type == paymentdomain.EventTypeSubscriptionDeleted)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID            string `json:"id"`
	Mode          string `json:"mode"`
	PaymentStatus string `json:"payment_status"`
}

// stripeInvoice covers the pre-2025 shape (subscription at the top level)
// and the newer one, where it moved under parent.subscription_details.
type stripeInvoice struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	AttemptCount int64           `json:"attempt_count"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// stripeSubscription likewise carries current_period_end either at the top
// level or on the first item.
type stripeSubscription struct {
	ID                string          `json:"id"`
	Customer          json.RawMessage `json:"customer"`
	Status            string          `json:"status"`
	CancelAtPeriodEnd bool            `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64           `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func parseCheckout(raw json.RawMessage) (*paymentdomain.CheckoutCompleted, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.CheckoutCompleted{
		SessionID:     id,
		Mode:          strings.TrimSpace(session.Mode),
		PaymentStatus: strings.TrimSpace(session.PaymentStatus),
	}, nil
}

func parseInvoice(raw json.RawMessage) (*paymentdomain.InvoiceEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	subscriptionID := expandableID(invoice.Subscription)
	if subscriptionID == "" && invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		subscriptionID = expandableID(invoice.Parent.SubscriptionDetails.Subscription)
	}
	return &paymentdomain.InvoiceEvent{
		InvoiceID:      strings.TrimSpace(invoice.ID),
		SubscriptionID: subscriptionID,
		AttemptCount:   invoice.AttemptCount,
	}, nil
}

func parseSubscription(raw json.RawMessage, deleted bool) (*subscriptiondomain.ProviderSubscription, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	periodEnd := sub.CurrentPeriodEnd
	if periodEnd == 0 && len(sub.Items.Data) > 0 {
		periodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}
	var end *time.Time
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		end = &t
	}

	return &subscriptiondomain.ProviderSubscription{
		ID:                id,
		CustomerID:        expandableID(sub.Customer),
		Status:            strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  end,
		Deleted:           deleted,
	}, nil
}

// expandableID reads a field that is either an id string or an expanded
// object carrying an id.
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func timestamp(created int64) time.Time {
	if created > 0 {
		return time.Unix(created, 0).UTC()
	}
	return time.Now().UTC()
}
