package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	numberingdomain "github.com/smallbiznis/fiscalsync/internal/numbering/domain"
	obslogger "github.com/smallbiznis/fiscalsync/internal/observability/logger"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/observability/tracing"
	plandomain "github.com/smallbiznis/fiscalsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

const (
	defaultUploadTimeout = 10 * time.Second
	minLease             = time.Minute
	maxLastErrorLen      = 1000
	userListLimit        = 50
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Fiscal        *config.FiscalConfigHolder
	Repo          domain.Repository
	Plans         plandomain.Service
	Subscriptions subscriptiondomain.Service
	Numbering     numberingdomain.Service
	Resolver      domain.PurchaseResolver
	Uploader      domain.Uploader
	Notifier      domain.Notifier  `optional:"true"`
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	loc           *time.Location
	fiscal        *config.FiscalConfigHolder
	repo          domain.Repository
	plans         plandomain.Service
	subscriptions subscriptiondomain.Service
	numbering     numberingdomain.Service
	resolver      domain.PurchaseResolver
	uploader      domain.Uploader
	notifier      domain.Notifier
	metrics       *metrics.Metrics
	uploadTimeout time.Duration
	lease         time.Duration
}

func New(p Params) domain.Service {
	timeout := p.Config.EInvoice.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	lease := 2 * timeout
	if lease < minLease {
		lease = minLease
	}

	return &Service{
		db:            p.DB,
		log:           p.Log.Named("invoice.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		loc:           p.Config.Location(),
		fiscal:        p.Fiscal,
		repo:          p.Repo,
		plans:         p.Plans,
		subscriptions: p.Subscriptions,
		numbering:     p.Numbering,
		resolver:      p.Resolver,
		uploader:      p.Uploader,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		uploadTimeout: timeout,
		lease:         lease,
	}
}

func (s *Service) Issue(ctx context.Context, sessionID string) (domain.IssueResult, error) {
	return s.issue(ctx, sessionID, "")
}

func (s *Service) Confirm(ctx context.Context, userID, sessionID string) (domain.IssueResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.IssueResult{}, ierr.WithError(domain.ErrInvalidUser).
			WithHint("authentication required").
			Mark(ierr.ErrAuthentication)
	}
	return s.issue(ctx, sessionID, userID)
}

// issue runs the idempotent issuance. A non-empty owner restricts the
// session to that user.
func (s *Service) issue(ctx context.Context, sessionID, owner string) (domain.IssueResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.IssueResult{}, ierr.WithError(domain.ErrInvalidSession).
			WithHint("session_id is required").
			Mark(ierr.ErrValidation)
	}

	ctx, span := tracing.Start(ctx, "invoice.issue", attribute.String("checkout_session_id", sessionID))
	defer span.End()
	log := obslogger.WithContext(ctx, s.log).With(zap.String("checkout_session_id", sessionID))

	existing, err := s.repo.FindBySession(ctx, s.db, sessionID)
	if err != nil {
		return domain.IssueResult{}, err
	}
	if existing != nil {
		if owner != "" && existing.UserID != owner {
			return domain.IssueResult{}, s.notOwned()
		}
		return s.replay(*existing), nil
	}

	purchase, err := s.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return domain.IssueResult{}, err
	}
	if err := s.validatePurchase(purchase); err != nil {
		return domain.IssueResult{}, err
	}
	if owner != "" && purchase.UserID != owner {
		return domain.IssueResult{}, s.notOwned()
	}

	fiscal := s.fiscal.Get()
	planName := strings.TrimSpace(purchase.PlanName)
	if planName == "" {
		planName = fiscal.DefaultPlan
	}
	plan, err := s.plans.Ensure(ctx, plandomain.EnsureRequest{
		Name:       planName,
		PriceCents: purchase.AmountCents,
		Currency:   purchase.Currency,
	})
	if err != nil {
		return domain.IssueResult{}, err
	}

	series := SeriesFor(fiscal, purchase.Customer)
	now := s.clock.Now()
	leaseUntil := now.Add(s.lease)

	inv := domain.Invoice{
		ID:                s.genID.Generate(),
		UserID:            purchase.UserID,
		PlanID:            plan.ID,
		PlanCode:          plan.Name,
		CheckoutSessionID: sessionID,
		ProviderInvoiceID: purchase.ProviderInvoiceID,
		AmountCents:       purchase.AmountCents,
		Currency:          strings.ToUpper(purchase.Currency),
		Series:            series.Code,
		Year:              now.In(s.loc).Year(),
		Status:            domain.InvoiceStatusPendingUpload,
		CustomerEmail:     purchase.Customer.Email,
		CustomerName:      purchase.Customer.Name,
		CustomerVATNumber: purchase.Customer.VATNumber,
		CustomerCountry:   purchase.Customer.Country,
		CustomerCity:      purchase.Customer.City,
		CustomerPostal:    purchase.Customer.PostalCode,
		LockedUntil:       &leaseUntil,
		IssuedAt:          now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.ActivateTx(ctx, tx, subscriptiondomain.Activation{
			UserID:                 purchase.UserID,
			PlanID:                 plan.ID,
			ProviderCustomerID:     purchase.ProviderCustomerID,
			ProviderSubscriptionID: purchase.ProviderSubscriptionID,
			CancelAtPeriodEnd:      purchase.CancelAtPeriodEnd,
			CurrentPeriodEnd:       purchase.CurrentPeriodEnd,
		})
		if err != nil {
			return err
		}
		inv.SubscriptionID = sub.ID

		aa, err := s.numbering.Allocate(ctx, tx, inv.Series, inv.Year)
		if err != nil {
			return err
		}
		inv.AA = aa

		inserted, err := s.repo.InsertIfAbsent(ctx, tx, &inv)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrIssueRaced
		}
		return nil
	})
	if err != nil {
		// A concurrent path may have committed the same session while this
		// transaction was blocked; its document wins.
		if winner, ferr := s.repo.FindBySession(ctx, s.db, sessionID); ferr == nil && winner != nil {
			log.Info("checkout session issued concurrently", zap.NamedError("cause", err))
			s.metrics.RecordIssuance(metrics.IssuanceRaced)
			return s.replay(*winner), nil
		}
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "issue failed")
		if errors.Is(err, domain.ErrIssueRaced) {
			return domain.IssueResult{}, ierr.WithError(err).
				WithMessage("session row vanished after conflict").
				Mark(ierr.ErrDataIntegrity)
		}
		return domain.IssueResult{}, err
	}

	s.metrics.RecordIssuance(metrics.IssuanceCreated)
	log.Info("invoice issued",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("series", inv.Series),
		zap.Int("year", inv.Year),
		zap.Int64("aa", inv.AA),
	)

	return domain.IssueResult{Invoice: s.attempt(ctx, inv)}, nil
}

func (s *Service) replay(inv domain.Invoice) domain.IssueResult {
	if inv.Status == domain.InvoiceStatusCompleted {
		s.metrics.RecordIssuance(metrics.IssuanceReplayed)
		return domain.IssueResult{Invoice: inv, Replayed: true}
	}
	s.metrics.RecordIssuance(metrics.IssuanceDeferred)
	return domain.IssueResult{Invoice: inv, Deferred: true}
}

func (s *Service) notOwned() error {
	return ierr.WithError(domain.ErrNotFound).
		WithHint("checkout session not found").
		Mark(ierr.ErrNotFound)
}

func (s *Service) validatePurchase(p domain.Purchase) error {
	if !p.Paid {
		return ierr.WithError(domain.ErrSessionNotPaid).
			WithHint("checkout session is not paid").
			Mark(ierr.ErrValidation)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return ierr.WithError(domain.ErrInvalidUser).
			WithHint("checkout session has no user reference").
			Mark(ierr.ErrValidation)
	}
	if p.AmountCents <= 0 || strings.TrimSpace(p.Currency) == "" {
		return ierr.WithError(domain.ErrInvalidAmount).
			WithHintf("checkout session amount %d %s is not billable", p.AmountCents, p.Currency).
			Mark(ierr.ErrValidation)
	}
	if strings.TrimSpace(p.ProviderSubscriptionID) == "" {
		return ierr.WithError(domain.ErrNoSubscription).
			WithHint("checkout session did not create a subscription").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (s *Service) Retry(ctx context.Context, id snowflake.ID) (bool, error) {
	now := s.clock.Now()
	claimed, err := s.repo.Claim(ctx, s.db, id, now, now.Add(s.lease))
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	inv, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return true, err
	}
	if inv == nil {
		return true, ierr.WithError(domain.ErrNotFound).
			WithMessagef("claimed invoice %s disappeared", id).
			Mark(ierr.ErrDataIntegrity)
	}

	s.attempt(ctx, *inv)
	return true, nil
}

func (s *Service) ListRetryable(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		return nil, ierr.NewErrorf("invalid retry batch size %d", limit).Mark(ierr.ErrValidation)
	}
	return s.repo.ListRetryable(ctx, s.db, s.clock.Now(), limit)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.Invoice, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ierr.WithError(domain.ErrInvalidUser).
			WithHint("authentication required").
			Mark(ierr.ErrAuthentication)
	}
	return s.repo.ListByUser(ctx, s.db, userID, userListLimit)
}

// attempt performs one upload for a document whose lease the caller holds
// and records the outcome. Failures stay local to the document.
func (s *Service) attempt(ctx context.Context, inv domain.Invoice) domain.Invoice {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.Start(ctx, "invoice.upload",
		attribute.String("series", inv.Series),
		attribute.Int64("aa", inv.AA),
		attribute.Int("retries", inv.Retries),
	)
	defer span.End()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("invoice_id", inv.ID.String()),
		zap.String("series", inv.Series),
		zap.Int64("aa", inv.AA),
	)

	doc, err := BuildDocument(s.fiscal.Get(), inv, s.loc)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "document not built")
		return s.fail(ctx, log, inv, err, s.clock.Now())
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	res, err := s.uploader.Upload(uploadCtx, doc)
	cancel()

	now := s.clock.Now()
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "upload failed")
		return s.fail(ctx, log, inv, err, now)
	}

	completion := domain.Completion{
		Mark:        res.Mark,
		UID:         res.UID,
		Number:      res.Number,
		DocumentURL: res.URL,
	}
	if json.Valid(res.Raw) {
		completion.Response = datatypes.JSON(res.Raw)
	}

	updated, err := s.repo.MarkCompleted(ctx, s.db, inv.ID, completion, now)
	if err != nil {
		log.Error("registered document could not be persisted",
			zap.String("mark", res.Mark),
			zap.Error(err),
		)
		return inv
	}
	if !updated {
		log.Info("document already completed by another worker")
		if current, ferr := s.repo.FindByID(ctx, s.db, inv.ID); ferr == nil && current != nil {
			return *current
		}
		return inv
	}

	inv.Status = domain.InvoiceStatusCompleted
	inv.ProviderMark = completion.Mark
	inv.ProviderUID = completion.UID
	inv.ProviderNumber = completion.Number
	inv.DocumentURL = completion.DocumentURL
	inv.ProviderResponse = completion.Response
	inv.LastError = ""
	inv.LockedUntil = nil
	inv.UpdatedAt = now

	s.metrics.RecordUpload(inv.Series, metrics.UploadCompleted)
	log.Info("document uploaded", zap.String("mark", inv.ProviderMark))

	if s.notifier != nil {
		s.notifier.InvoiceIssued(inv)
	}
	return inv
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, inv domain.Invoice, cause error, now time.Time) domain.Invoice {
	msg := ierr.Truncate(cause.Error(), maxLastErrorLen)

	updated, err := s.repo.MarkFailed(ctx, s.db, inv.ID, msg, now)
	if err != nil {
		log.Error("upload failure could not be persisted", zap.NamedError("cause", cause), zap.Error(err))
		return inv
	}
	if !updated {
		log.Info("document completed concurrently, failure discarded", zap.NamedError("cause", cause))
		if current, ferr := s.repo.FindByID(ctx, s.db, inv.ID); ferr == nil && current != nil {
			return *current
		}
		return inv
	}

	inv.Status = domain.InvoiceStatusFailed
	inv.Retries++
	inv.LastError = msg
	inv.LockedUntil = nil
	inv.UpdatedAt = now

	if inv.Retries >= domain.MaxUploadAttempts {
		s.metrics.RecordUpload(inv.Series, metrics.UploadExhausted)
		log.Error("upload attempts exhausted, document left failed",
			zap.Int("retries", inv.Retries),
			zap.Error(cause),
		)
		return inv
	}

	s.metrics.RecordUpload(inv.Series, metrics.UploadFailed)
	log.Warn("upload failed, deferred to retry sweep",
		zap.Int("retries", inv.Retries),
		zap.Error(cause),
	)
	return inv
}
