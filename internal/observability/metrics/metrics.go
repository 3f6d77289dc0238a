package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every collector with the running service.
type Config struct {
	ServiceName string
	Environment string
}

const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"

	IssuanceCreated  = "created"
	IssuanceReplayed = "replayed"
	IssuanceDeferred = "deferred"
	IssuanceRaced    = "raced"

	UploadCompleted = "completed"
	UploadFailed    = "failed"
	UploadExhausted = "exhausted"

	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Metrics exposes domain counters for the billing engine. A nil *Metrics is a no-op.
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	issuance          *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	subscriptionMoves *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
}

// New registers the domain collectors on registerer.
func New(cfg Config, registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_webhook_events_total",
			Help:        "Payment provider webhook events by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"event_type", "outcome"}),
		issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_invoice_issuance_total",
			Help:        "Invoice issuance requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_invoice_uploads_total",
			Help:        "E-invoice upload attempts by series and outcome.",
			ConstLabels: constLabels,
		}, []string{"series", "outcome"}),
		subscriptionMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_subscription_transitions_total",
			Help:        "Subscription status writes by trigger and target status.",
			ConstLabels: constLabels,
		}, []string{"trigger", "status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscalsync_notifications_total",
			Help:        "Invoice notification emails by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fiscalsync_provider_call_duration_seconds",
			Help:        "Outbound provider call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			ConstLabels: constLabels,
		}, []string{"provider", "operation", "outcome"}),
	}

	var err error
	if m.webhookEvents, err = register(registerer, m.webhookEvents); err != nil {
		return nil, err
	}
	if m.issuance, err = register(registerer, m.issuance); err != nil {
		return nil, err
	}
	if m.uploads, err = register(registerer, m.uploads); err != nil {
		return nil, err
	}
	if m.subscriptionMoves, err = register(registerer, m.subscriptionMoves); err != nil {
		return nil, err
	}
	if m.notifications, err = register(registerer, m.notifications); err != nil {
		return nil, err
	}
	if m.providerLatency, err = register(registerer, m.providerLatency); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor, if any.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func constLabels(cfg Config) prometheus.Labels {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "fiscalsync"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	return prometheus.Labels{"service": service, "env": env}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *Metrics) RecordIssuance(outcome string) {
	if m == nil {
		return
	}
	m.issuance.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUpload(series, outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(normalizeLabel(series), outcome).Inc()
}

func (m *Metrics) RecordSubscriptionTransition(trigger, status string) {
	if m == nil {
		return
	}
	m.subscriptionMoves.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall records the latency of an outbound call started at start.
func (m *Metrics) ObserveProviderCall(provider, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerLatency.WithLabelValues(provider, operation, outcome).Observe(time.Since(start).Seconds())
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
