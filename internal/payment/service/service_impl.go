package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	obslogger "github.com/smallbiznis/fiscalsync/internal/observability/logger"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/fiscalsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

const eventTypeUnknown = "unknown"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	Adapter       paymentdomain.Adapter
	Invoices      invoicedomain.Service
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          paymentdomain.Repository
	adapter       paymentdomain.Adapter
	invoices      invoicedomain.Service
	subscriptions subscriptiondomain.Service
	metrics       *metrics.Metrics
}

func NewService(p Params) paymentdomain.Gateway {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		adapter:       p.Adapter,
		invoices:      p.Invoices,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

func (s *Service) Handle(ctx context.Context, payload []byte, headers http.Header) error {
	provider := s.adapter.Provider()
	ctx, span := tracing.Start(ctx, "payment.webhook", attribute.String("provider", provider))
	defer span.End()
	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("webhook signature rejected")
		s.metrics.RecordWebhookEvent(eventTypeUnknown, metrics.OutcomeRejected)
		return ierr.WithError(paymentdomain.ErrInvalidSignature).
			WithHint("invalid webhook signature").
			Mark(ierr.ErrAuthentication)
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordWebhookEvent(eventTypeUnknown, metrics.OutcomeIgnored)
			return paymentdomain.ErrEventIgnored
		}
		log.Warn("webhook payload rejected", zap.Error(err))
		s.metrics.RecordWebhookEvent(eventTypeUnknown, metrics.OutcomeRejected)
		return ierr.WithError(err).
			WithHint("malformed webhook payload").
			Mark(ierr.ErrValidation)
	}
	span.SetAttributes(attribute.String("event_type", event.Type))
	log = log.With(zap.String("event_id", event.ProviderEventID), zap.String("event_type", event.Type))

	err = s.ProcessEvent(ctx, event)
	switch {
	case err == nil:
		s.metrics.RecordWebhookEvent(event.Type, metrics.OutcomeProcessed)
		log.Info("webhook processed")
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		s.metrics.RecordWebhookEvent(event.Type, metrics.OutcomeDuplicate)
		log.Debug("webhook already processed")
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		s.metrics.RecordWebhookEvent(event.Type, metrics.OutcomeIgnored)
	default:
		span.RecordError(tracing.SafeError(err))
		s.metrics.RecordWebhookEvent(event.Type, metrics.OutcomeFailed)
		log.Error("webhook handler failed", zap.Error(err))
	}
	return err
}

// ProcessEvent records event in the delivery ledger, routes it and marks it
// processed. A failed handler leaves the record open for redelivery.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	// Events the gateway would drop are acknowledged without a ledger row.
	if event.Checkout != nil && !event.Checkout.Settled() {
		return paymentdomain.ErrEventIgnored
	}
	if event.Invoice != nil && event.Invoice.SubscriptionID == "" {
		return paymentdomain.ErrEventIgnored
	}

	now := s.clock.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return ierr.WithError(err).
			WithHint("failed to record webhook event").
			Mark(ierr.ErrDataIntegrity)
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return ierr.WithError(err).
				WithHint("failed to load webhook event").
				Mark(ierr.ErrDataIntegrity)
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.route(ctx, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now().UTC()); err != nil {
		return ierr.WithError(err).
			WithHint("failed to mark webhook event processed").
			Mark(ierr.ErrDataIntegrity)
	}
	return nil
}

func (s *Service) route(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch {
	case event.Checkout != nil:
		return s.issue(ctx, event)
	case event.Invoice != nil && event.Type == paymentdomain.EventTypeInvoicePaymentFailed:
		return s.subscriptions.ApplyPaymentFailed(ctx, event.Invoice.SubscriptionID, event.Invoice.AttemptCount)
	case event.Invoice != nil:
		return s.subscriptions.ApplyPaymentSucceeded(ctx, event.Invoice.SubscriptionID)
	case event.Subscription != nil:
		return s.subscriptions.ApplyProviderSync(ctx, *event.Subscription)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// issue hands a settled checkout to the orchestrator. A session the
// orchestrator rejects as invalid is acknowledged, since redelivery cannot
// change the outcome.
func (s *Service) issue(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	res, err := s.invoices.Issue(ctx, event.Checkout.SessionID)
	if err != nil {
		if ierr.IsValidation(err) {
			obslogger.WithContext(ctx, s.log).Warn("checkout session rejected",
				zap.String("checkout_session_id", event.Checkout.SessionID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
	if res.Deferred {
		obslogger.WithContext(ctx, s.log).Info("invoice upload deferred to sweep",
			zap.String("checkout_session_id", event.Checkout.SessionID),
			zap.String("invoice_id", res.Invoice.ID.String()),
		)
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ProviderEventID == "" || event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if len(event.RawPayload) == 0 {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}
