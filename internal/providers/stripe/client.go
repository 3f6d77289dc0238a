package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

const providerName = "stripe"

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Client wraps the Stripe API calls the engine makes outside webhooks:
// resolving checkout sessions and managing subscriptions.
type Client struct {
	sc      *stripego.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) *Client {
	timeout := p.Config.Stripe.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(1),
	}
	if p.Config.Stripe.APIBase != "" {
		backendCfg.URL = stripego.String(p.Config.Stripe.APIBase)
	}

	return &Client{
		sc:      stripego.NewClient(p.Config.Stripe.SecretKey, stripego.WithBackends(stripego.NewBackendsWithConfig(backendCfg))),
		log:     p.Log.Named("providers.stripe"),
		metrics: p.Metrics,
	}
}

// Resolve loads a checkout session with its subscription expanded.
func (c *Client) Resolve(ctx context.Context, sessionID string) (purchase invoicedomain.Purchase, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveProviderCall(providerName, "checkout_session.retrieve", start, err) }()

	params := &stripego.CheckoutSessionRetrieveParams{
		Expand: []*string{stripego.String("subscription")},
	}
	session, err := c.sc.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
	if err != nil {
		c.log.Warn("checkout session lookup failed", zap.String("checkout_session_id", sessionID), zap.Error(err))
		return invoicedomain.Purchase{}, mapError(err, "checkout session", invoicedomain.ErrInvalidSession)
	}
	return PurchaseFromSession(session), nil
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool) (sub subscriptiondomain.ProviderSubscription, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveProviderCall(providerName, "subscription.update", start, err) }()

	params := &stripego.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripego.Bool(cancel),
	}
	remote, err := c.sc.V1Subscriptions.Update(ctx, providerSubscriptionID, params)
	if err != nil {
		c.log.Warn("subscription update failed", zap.String("provider_subscription_id", providerSubscriptionID), zap.Error(err))
		return subscriptiondomain.ProviderSubscription{}, mapError(err, "subscription", subscriptiondomain.ErrNotFound)
	}
	return SubscriptionFromStripe(remote), nil
}

func (c *Client) PortalURL(ctx context.Context, providerCustomerID, returnURL string) (url string, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveProviderCall(providerName, "billing_portal_session.create", start, err) }()

	params := &stripego.BillingPortalSessionCreateParams{
		Customer:  stripego.String(providerCustomerID),
		ReturnURL: stripego.String(returnURL),
	}
	session, err := c.sc.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		c.log.Warn("billing portal session failed", zap.String("provider_customer_id", providerCustomerID), zap.Error(err))
		return "", mapError(err, "customer", subscriptiondomain.ErrNotFound)
	}
	if strings.TrimSpace(session.URL) == "" {
		return "", ierr.NewError("billing portal session without url").
			WithHint("Payment provider returned an empty portal link").
			Mark(ierr.ErrExternalProvider)
	}
	return session.URL, nil
}

// PurchaseFromSession maps a checkout session onto the orchestrator's view.
func PurchaseFromSession(session *stripego.CheckoutSession) invoicedomain.Purchase {
	if session == nil {
		return invoicedomain.Purchase{}
	}
	out := invoicedomain.Purchase{
		SessionID:   session.ID,
		Paid:        session.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid || session.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired,
		UserID:      strings.TrimSpace(session.ClientReferenceID),
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
		PlanName:    strings.TrimSpace(session.Metadata["plan"]),
	}
	if out.UserID == "" {
		out.UserID = strings.TrimSpace(session.Metadata["user_id"])
	}
	if session.Customer != nil {
		out.ProviderCustomerID = session.Customer.ID
	}
	if session.Invoice != nil {
		out.ProviderInvoiceID = session.Invoice.ID
	}
	if session.Subscription != nil {
		sub := SubscriptionFromStripe(session.Subscription)
		out.ProviderSubscriptionID = sub.ID
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		out.CurrentPeriodEnd = sub.CurrentPeriodEnd
		if out.ProviderCustomerID == "" {
			out.ProviderCustomerID = sub.CustomerID
		}
	}
	if d := session.CustomerDetails; d != nil {
		out.Customer.Email = strings.TrimSpace(d.Email)
		out.Customer.Name = strings.TrimSpace(d.Name)
		if d.Address != nil {
			out.Customer.Country = strings.TrimSpace(d.Address.Country)
			out.Customer.City = strings.TrimSpace(d.Address.City)
			out.Customer.PostalCode = strings.TrimSpace(d.Address.PostalCode)
		}
		for _, taxID := range d.TaxIDs {
			if taxID != nil && strings.TrimSpace(taxID.Value) != "" {
				out.Customer.VATNumber = strings.TrimSpace(taxID.Value)
				break
			}
		}
	}
	return out
}

// SubscriptionFromStripe reads the period end from the first item, where the
// current API version keeps it.
func SubscriptionFromStripe(sub *stripego.Subscription) subscriptiondomain.ProviderSubscription {
	if sub == nil {
		return subscriptiondomain.ProviderSubscription{}
	}
	out := subscriptiondomain.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	return out
}

// mapError turns a missing resource into a validation error carrying
// notFound and everything else into an external provider error.
func mapError(err error, resource string, notFound error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripego.ErrorCodeResourceMissing {
			return ierr.WithError(notFound).
				WithHintf("Unknown %s", resource).
				Mark(ierr.ErrValidation)
		}
	}
	return ierr.WithError(err).
		WithHintf("Payment provider request for %s failed", resource).
		Mark(ierr.ErrExternalProvider)
}
