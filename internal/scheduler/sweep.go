package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
)

const sweepLockKey = "fiscalsync:sweep:invoice_retry"

// InvoiceRetryJob re-attempts uploads of documents left pending or failed.
// Every document is claimed before its upload, so overlapping runs and
// concurrent issuance never upload the same document twice.
func (s *Scheduler) InvoiceRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvoiceRetry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.logger(ctx).Warn("sweep lock unavailable, relying on row claims", zap.Error(err))
		case !ok:
			schedMetrics.IncBatchDeferred(JobInvoiceRetry, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			s.logger(ctx).Debug("sweep lock held by another replica")
			return nil
		default:
			defer s.releaseLock(ctx, token)
		}
	}

	invoices, err := s.invoiceSvc.ListRetryable(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		schedMetrics.IncBatchDeferred(JobInvoiceRetry, obsmetrics.SchedulerBatchDeferredReasonEmptyBatch)
		return nil
	}

	var processed atomic.Int64
	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency).WithErrors()
	for _, inv := range invoices {
		p.Go(func() error {
			return s.retryInvoice(ctx, run, inv, &processed)
		})
	}
	err = p.Wait()
	schedMetrics.AddBatchProcessed(JobInvoiceRetry, "invoice", int(processed.Load()))
	return err
}

func (s *Scheduler) retryInvoice(ctx context.Context, run *jobRun, inv invoicedomain.Invoice, processed *atomic.Int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	claimed, err := s.invoiceSvc.Retry(ctx, inv.ID)
	if err != nil {
		s.logSchedulerError(ctx, run, "invoice retry failed", err,
			zap.String("invoice_id", inv.ID.String()),
		)
		return err
	}
	if !claimed {
		run.IncDeferred()
		obsmetrics.Scheduler().IncBatchDeferred(JobInvoiceRetry, obsmetrics.SchedulerBatchDeferredReasonClaimLost)
		return nil
	}
	run.AddProcessed(1)
	processed.Add(1)
	return nil
}

func (s *Scheduler) releaseLock(ctx context.Context, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.locker.Release(releaseCtx, sweepLockKey, token); err != nil {
		s.logger(ctx).Warn("sweep lock release failed", zap.Error(err))
	}
}
