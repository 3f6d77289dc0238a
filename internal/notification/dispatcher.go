package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/providers/email"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
)

type Params struct {
	fx.In

	Config  config.Config
	Fiscal  *config.FiscalConfigHolder
	Log     *zap.Logger
	Email   email.Provider
	PDF     pdf.Provider
	Metrics *metrics.Metrics `optional:"true"`
}

// Dispatcher mails issued documents in the background. Failures are logged
// and never reach the issuing path.
type Dispatcher struct {
	cfg        config.Config
	fiscal     *config.FiscalConfigHolder
	log        *zap.Logger
	email      email.Provider
	pdf        pdf.Provider
	metrics    *metrics.Metrics
	timeout    time.Duration
	maxRetries uint64
	interval   time.Duration
	wg         sync.WaitGroup
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		cfg:        p.Config,
		fiscal:     p.Fiscal,
		log:        p.Log.Named("notification.dispatcher"),
		email:      p.Email,
		pdf:        p.PDF,
		metrics:    p.Metrics,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		interval:   500 * time.Millisecond,
	}
}

// InvoiceIssued returns immediately; delivery runs on its own goroutine
// with a detached, bounded context.
func (d *Dispatcher) InvoiceIssued(inv invoicedomain.Invoice) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Deliver(ctx, inv)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends the customer and owner messages for inv synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, inv invoicedomain.Invoice) {
	log := d.log.With(
		zap.String("invoice_id", inv.ID.String()),
		zap.String("series", inv.Series),
		zap.Int64("aa", inv.AA),
	)

	data, err := BuildReceipt(d.fiscal.Get(), inv, d.cfg.Location())
	if err != nil {
		d.metrics.RecordNotification(metrics.NotificationFailed)
		log.Error("receipt not built", zap.Error(err))
		return
	}
	attachment, err := d.pdf.GenerateReceipt(ctx, data)
	if err != nil {
		// The mail still goes out, it just carries no PDF.
		log.Warn("receipt pdf generation failed", zap.Error(err))
		attachment = nil
	}

	var messages []email.Message
	if to := strings.TrimSpace(inv.CustomerEmail); to != "" {
		messages = append(messages, customerMessage(data, to, attachment))
	} else {
		log.Warn("invoice has no customer email")
	}
	if owner := strings.TrimSpace(d.cfg.Email.OwnerEmail); owner != "" {
		messages = append(messages, ownerMessage(data, owner, attachment))
	}

	for _, msg := range messages {
		if err := d.send(ctx, msg); err != nil {
			d.metrics.RecordNotification(metrics.NotificationFailed)
			log.Error("notification failed", zap.Strings("to", msg.To), zap.Error(err))
			continue
		}
		d.metrics.RecordNotification(metrics.NotificationSent)
		log.Info("notification sent", zap.Strings("to", msg.To))
	}
}

func (d *Dispatcher) send(ctx context.Context, msg email.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.interval
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.maxRetries), ctx)

	return backoff.Retry(func() error {
		err := d.email.Send(ctx, msg)
		if err != nil && (ierr.IsValidation(err) || ierr.IsConfiguration(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
