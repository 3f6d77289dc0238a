package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Counter is the last sequence number handed out for a (series, year).
// Rows are only ever incremented.
type Counter struct {
	Series    string    `gorm:"primaryKey;type:text"`
	Year      int       `gorm:"primaryKey"`
	LastAA    int64     `gorm:"column:last_aa;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Counter) TableName() string { return "invoice_counters" }

type Repository interface {
	// Increment atomically creates or bumps the counter and returns the new value.
	Increment(ctx context.Context, db *gorm.DB, series string, year int, now time.Time) (int64, error)
	Find(ctx context.Context, db *gorm.DB, series string, year int) (*Counter, error)
}

type Service interface {
	// Allocate returns the next aa for (series, year). It runs on tx, so a
	// rollback of tx returns the number.
	Allocate(ctx context.Context, tx *gorm.DB, series string, year int) (int64, error)
	// Current returns the last allocated aa, or 0 when none was allocated yet.
	Current(ctx context.Context, series string, year int) (int64, error)
}

var (
	ErrInvalidSeries      = errors.New("invalid_series")
	ErrInvalidYear        = errors.New("invalid_year")
	ErrTransactionMissing = errors.New("transaction_required")
)
