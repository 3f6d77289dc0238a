package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDomainMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(Config{ServiceName: "fiscalsync", Environment: "test"}, registry)
	require.NoError(t, err)

	m.RecordWebhookEvent("invoice.paid", OutcomeProcessed)
	m.RecordWebhookEvent("invoice.paid", OutcomeProcessed)
	m.RecordIssuance(IssuanceReplayed)
	m.RecordUpload("APY", UploadFailed)
	m.RecordSubscriptionTransition("payment_failed", "past_due")
	m.ObserveProviderCall("einvoice", "submit", time.Now(), errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("invoice.paid", OutcomeProcessed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.issuance.WithLabelValues(IssuanceReplayed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("APY", UploadFailed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionMoves.WithLabelValues("payment_failed", "past_due")))
	require.Equal(t, 1, testutil.CollectAndCount(m.providerLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordWebhookEvent("x", OutcomeIgnored)
		m.RecordIssuance(IssuanceCreated)
		m.RecordUpload("TPY", UploadCompleted)
		m.RecordNotification(NotificationSent)
		m.ObserveProviderCall("stripe", "retrieve", time.Now(), nil)
	})
}

func TestNewToleratesDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := New(Config{}, registry)
	require.NoError(t, err)
	second, err := New(Config{}, registry)
	require.NoError(t, err)

	first.RecordIssuance(IssuanceCreated)
	require.Equal(t, 1.0, testutil.ToFloat64(second.issuance.WithLabelValues(IssuanceCreated)))
}
