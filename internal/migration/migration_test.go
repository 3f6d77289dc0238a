package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplySQLiteSchemaIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Run(conn))
	require.NoError(t, Run(conn))

	for _, table := range []string{"plans", "subscriptions", "invoice_counters", "invoices", "payment_events"} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql"} {
		entries, err := embeddedMigrations.ReadDir("migrations/" + dialect)
		require.NoError(t, err)
		require.Len(t, entries, 2, dialect)
	}
}
