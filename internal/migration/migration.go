package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/pkg/db"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Run brings the schema up to date for the dialect conn was opened with.
// Postgres and MySQL go through versioned migrations; SQLite applies the
// idempotent schema file directly.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch dialect := db.Name(conn); dialect {
	case db.DialectSQLite:
		return ApplySQLiteSchema(conn)
	case db.DialectPostgres, db.DialectMySQL:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return runVersioned(sqlDB, dialect)
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

func runVersioned(sqlDB *sql.DB, dialect string) error {
	sub, err := fs.Sub(embeddedMigrations, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case db.DialectMySQL:
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{})
	default:
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// ApplySQLiteSchema creates every table and index if missing.
func ApplySQLiteSchema(conn *gorm.DB) error {
	raw, err := embeddedMigrations.ReadFile("migrations/sqlite/schema.sql")
	if err != nil {
		return fmt.Errorf("read sqlite schema: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
