package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/plan/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const planColumns = `id, name, display_name, price_cents, currency, features, created_at, updated_at`

func (r *repo) InsertIfAbsent(ctx context.Context, conn *gorm.DB, plan *domain.Plan) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		db.InsertIgnore(conn,
			`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			"name",
		),
		plan.ID,
		plan.Name,
		plan.DisplayName,
		plan.PriceCents,
		plan.Currency,
		plan.Features,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByName(ctx context.Context, conn *gorm.DB, name string) (*domain.Plan, error) {
	return r.findOne(ctx, conn, `SELECT `+planColumns+` FROM plans WHERE name = ? LIMIT 1`, name)
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findOne(ctx, conn, `SELECT `+planColumns+` FROM plans WHERE id = ? LIMIT 1`, id)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Plan, error) {
	var item domain.Plan
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
