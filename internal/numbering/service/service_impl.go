package service

import (
	"context"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	"github.com/smallbiznis/fiscalsync/internal/numbering/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("numbering.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Allocate(ctx context.Context, tx *gorm.DB, series string, year int) (int64, error) {
	series, err := validate(series, year)
	if err != nil {
		return 0, err
	}
	if tx == nil {
		return 0, ierr.WithError(domain.ErrTransactionMissing).Mark(ierr.ErrDataIntegrity)
	}

	aa, err := s.repo.Increment(ctx, tx, series, year, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if aa <= 0 {
		return 0, ierr.NewErrorf("counter %s/%d returned non-positive aa %d", series, year, aa).
			Mark(ierr.ErrDataIntegrity)
	}

	s.log.Debug("allocated invoice number",
		zap.String("series", series),
		zap.Int("year", year),
		zap.Int64("aa", aa),
	)
	return aa, nil
}

func (s *Service) Current(ctx context.Context, series string, year int) (int64, error) {
	series, err := validate(series, year)
	if err != nil {
		return 0, err
	}
	counter, err := s.repo.Find(ctx, s.db, series, year)
	if err != nil {
		return 0, err
	}
	if counter == nil {
		return 0, nil
	}
	return counter.LastAA, nil
}

func validate(series string, year int) (string, error) {
	series = strings.TrimSpace(series)
	if series == "" {
		return "", ierr.WithError(domain.ErrInvalidSeries).
			WithHint("series is required").
			Mark(ierr.ErrValidation)
	}
	if year <= 0 {
		return "", ierr.WithError(domain.ErrInvalidYear).
			WithHintf("year must be positive, got %d", year).
			Mark(ierr.ErrValidation)
	}
	return series, nil
}
