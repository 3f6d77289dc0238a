package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
)

// stuckInvoices never finishes a retry on its own; it only returns once the
// job context is done.
type stuckInvoices struct {
	invoicedomain.Service
	pending []invoicedomain.Invoice
}

func (f *stuckInvoices) ListRetryable(_ context.Context, _ int) ([]invoicedomain.Invoice, error) {
	return f.pending, nil
}

func (f *stuckInvoices) Retry(ctx context.Context, _ snowflake.ID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func isolatedSchedulerMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	prevReg, prevGather := prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	prometheus.DefaultRegisterer, prometheus.DefaultGatherer = reg, reg
	obsmetrics.ResetSchedulerMetricsForTest()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer, prometheus.DefaultGatherer = prevReg, prevGather
		obsmetrics.ResetSchedulerMetricsForTest()
	})
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "fiscalsync", Environment: "test"})
	return reg
}

// counterFor sums every series of the named counter whose labels include want.
func counterFor(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	series:
		for _, m := range family.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestRunOnceTreatsStuckRetryAsSoftTimeout(t *testing.T) {
	reg := isolatedSchedulerMetrics(t)

	invoices := &stuckInvoices{pending: pendingInvoices(3)}
	s := newSweepScheduler(t, invoices, nil, Config{JobTimeout: 50 * time.Millisecond, Concurrency: 2})

	started := time.Now()
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Less(t, time.Since(started), 5*time.Second)

	job := map[string]string{"job": JobInvoiceRetry, "env": "test"}
	assert.Equal(t, float64(1), counterFor(t, reg, "fiscalsync_scheduler_job_timeouts_total", job))
	assert.Equal(t, float64(1), counterFor(t, reg, "fiscalsync_scheduler_job_runs_total", job))
	assert.Equal(t, float64(1), counterFor(t, reg, "fiscalsync_scheduler_job_errors_total",
		map[string]string{"job": JobInvoiceRetry, "reason": obsmetrics.SchedulerJobReasonDeadlineExceeded}))
}

func TestRunOnceWithinDeadlineRecordsNoTimeout(t *testing.T) {
	reg := isolatedSchedulerMetrics(t)

	invoices := &fakeInvoices{pending: pendingInvoices(2)}
	s := newSweepScheduler(t, invoices, nil, Config{JobTimeout: time.Second})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, invoices.retried, 2)
	assert.Zero(t, counterFor(t, reg, "fiscalsync_scheduler_job_timeouts_total",
		map[string]string{"job": JobInvoiceRetry}))
}
