package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Additional-Code/tally/internal/database"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigrateUpAndDownOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	mig, err := NewForDB(db, "sqlite3", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, mig.Up(ctx))
	for _, table := range []string{"orders", "order_items", "payments"} {
		assert.True(t, tableExists(t, db, table), table)
	}
	version, err := mig.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	require.NoError(t, mig.Up(ctx), "re-running up is a no-op")

	require.NoError(t, mig.Down(ctx, 0, true))
	assert.False(t, tableExists(t, db, "orders"))
}

func TestEmbeddedMigrationsPerDialect(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql", "sqlite3"} {
		entries, err := migrations.ReadDir("sql/" + dialect)
		require.NoError(t, err, dialect)
		assert.NotEmpty(t, entries, dialect)
	}
}

func TestMemoryLedgerSkipsMigrations(t *testing.T) {
	mig, err := New(&database.Connections{Driver: "memory"}, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, mig.Up(context.Background()))
	assert.NoError(t, mig.Down(context.Background(), 1, false))
}

func TestGooseDialect(t *testing.T) {
	got, err := gooseDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, "postgres", got)

	_, err = gooseDialect("oracle")
	assert.Error(t, err)
}
