package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan is a purchasable tier, keyed by its canonical slug.
type Plan struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"type:text;not null;uniqueIndex" json:"name"`
	DisplayName string            `gorm:"type:text;not null" json:"display_name"`
	PriceCents  int64             `gorm:"not null" json:"price_cents"`
	Currency    string            `gorm:"type:text;not null" json:"currency"`
	Features    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"features"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// EnsureRequest names a plan and the observed price used when the plan
// catalog has no entry for it.
type EnsureRequest struct {
	Name       string
	PriceCents int64
	Currency   string
}

type Repository interface {
	// InsertIfAbsent reports whether the row was written.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, plan *Plan) (bool, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Plan, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
}

type Service interface {
	Ensure(ctx context.Context, req EnsureRequest) (Plan, error)
	GetByID(ctx context.Context, id snowflake.ID) (Plan, error)
}

var (
	ErrInvalidName = errors.New("invalid_plan_name")
	ErrNotFound    = errors.New("plan_not_found")
)
