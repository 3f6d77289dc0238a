// Package testutil opens SQLite databases carrying the production schema.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/fiscalsync/internal/migration"
)

// OpenDB returns a private in-memory database with the schema applied.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, "file::memory:")
}

// OpenFileDB opens (or reopens) a database file inside dir. Reopening the
// same path simulates a process restart.
func OpenFileDB(t testing.TB, dir string) *gorm.DB {
	t.Helper()
	return open(t, filepath.Join(dir, "fiscalsync.db"))
}

func open(t testing.TB, dsn string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// A single connection keeps the in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// Node returns a snowflake generator for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
