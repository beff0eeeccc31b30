// Package dbtest opens throwaway in-memory databases for repository and service tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/database"
)

// Open returns a migrated in-memory SQLite pool closed at test cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	t.Cleanup(func() { db.Close() })
	return db
}
