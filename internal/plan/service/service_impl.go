package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/plan/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Fiscal *config.FiscalConfigHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	fiscal *config.FiscalConfigHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("plan.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		fiscal: p.Fiscal,
		repo:   p.Repo,
	}
}

// CanonicalName is the slug plans are stored and looked up under.
func CanonicalName(name string) string {
	return slug.Make(strings.TrimSpace(name))
}

// Ensure returns the plan named req.Name, creating it from the plan catalog
// (or the observed price) on first reference. Concurrent first references
// converge on a single row.
func (s *Service) Ensure(ctx context.Context, req domain.EnsureRequest) (domain.Plan, error) {
	name := CanonicalName(req.Name)
	if name == "" {
		return domain.Plan{}, ierr.WithError(domain.ErrInvalidName).
			WithHint("plan name is required").
			Mark(ierr.ErrValidation)
	}

	existing, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	plan := s.newPlan(name, req)
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &plan)
	if err != nil {
		return domain.Plan{}, err
	}
	if inserted {
		s.log.Info("plan created",
			zap.String("plan", plan.Name),
			zap.Int64("price_cents", plan.PriceCents),
			zap.String("currency", plan.Currency),
		)
		return plan, nil
	}

	existing, err = s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing == nil {
		return domain.Plan{}, ierr.NewErrorf("plan %q vanished after conflicting insert", name).
			Mark(ierr.ErrDataIntegrity)
	}
	return *existing, nil
}

func (s *Service) newPlan(name string, req domain.EnsureRequest) domain.Plan {
	now := s.clock.Now()
	plan := domain.Plan{
		ID:          s.genID.Generate(),
		Name:        name,
		DisplayName: strings.TrimSpace(req.Name),
		PriceCents:  req.PriceCents,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Features:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	defaults, ok := s.fiscal.Get().PlanDefaults(name)
	if !ok {
		return plan
	}
	if defaults.DisplayName != "" {
		plan.DisplayName = defaults.DisplayName
	}
	if defaults.PriceCents > 0 {
		plan.PriceCents = defaults.PriceCents
	}
	if defaults.Currency != "" {
		plan.Currency = strings.ToUpper(defaults.Currency)
	}
	for feature, enabled := range defaults.Features {
		plan.Features[feature] = enabled
	}
	return plan
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, ierr.WithError(domain.ErrNotFound).Mark(ierr.ErrNotFound)
	}
	return *plan, nil
}
