package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/numbering/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Increment(ctx context.Context, conn *gorm.DB, series string, year int, now time.Time) (int64, error) {
	if db.Name(conn) == db.DialectMySQL {
		return r.incrementMySQL(ctx, conn, series, year, now)
	}

	var aa int64
	err := conn.WithContext(ctx).Raw(
		`INSERT INTO invoice_counters (series, year, last_aa, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (series, year) DO UPDATE
		 SET last_aa = invoice_counters.last_aa + 1,
		     updated_at = excluded.updated_at
		 RETURNING last_aa`,
		series,
		year,
		now,
		now,
	).Row().Scan(&aa)
	if err != nil {
		return 0, err
	}
	return aa, nil
}

// incrementMySQL stores the new value in the session's LAST_INSERT_ID so it
// can be read back without a second lookup of the row.
func (r *repo) incrementMySQL(ctx context.Context, conn *gorm.DB, series string, year int, now time.Time) (int64, error) {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO invoice_counters (series, year, last_aa, created_at, updated_at)
		 VALUES (?, ?, LAST_INSERT_ID(1), ?, ?)
		 ON DUPLICATE KEY UPDATE
		 last_aa = LAST_INSERT_ID(last_aa + 1),
		 updated_at = VALUES(updated_at)`,
		series,
		year,
		now,
		now,
	).Error
	if err != nil {
		return 0, err
	}

	var aa int64
	if err := conn.WithContext(ctx).Raw(`SELECT LAST_INSERT_ID()`).Row().Scan(&aa); err != nil {
		return 0, err
	}
	return aa, nil
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, series string, year int) (*domain.Counter, error) {
	var item domain.Counter
	err := conn.WithContext(ctx).Raw(
		`SELECT series, year, last_aa, created_at, updated_at
		 FROM invoice_counters
		 WHERE series = ? AND year = ?
		 LIMIT 1`,
		series,
		year,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Series == "" {
		return nil, nil
	}
	return &item, nil
}
