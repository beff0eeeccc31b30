package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DriverSQLite))
	require.NoError(t, Migrate(ctx, db, DriverSQLite))

	var count int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'sessions', 'generations', 'api_costs', 'harvested_prompts', 'content_queue')`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 6, count)
}

func TestTimesRoundTripAndCompare(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DriverSQLite))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 1500 * time.Millisecond, time.Hour} {
		_, err := db.ExecContext(ctx, `INSERT INTO revenue (user_id, amount, type, description, created_at) VALUES (?, ?, 'test', '', ?)`,
			i, 1.0, base.Add(offset))
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revenue WHERE created_at >= ?`, base.Add(time.Second)).Scan(&n))
	assert.Equal(t, 2, n)

	var got time.Time
	require.NoError(t, db.QueryRowContext(ctx, `SELECT created_at FROM revenue ORDER BY id LIMIT 1`).Scan(&got))
	assert.True(t, got.Equal(base))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("picly.db")
	assert.Contains(t, dsn, "journal_mode")
	assert.Contains(t, dsn, "_time_format=sqlite")

	mem := sqliteDSN(":memory:")
	assert.NotContains(t, mem, "journal_mode")

	custom := "file.db?_pragma=busy_timeout(100)"
	assert.Equal(t, custom, sqliteDSN(custom))
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("user:pass@tcp(localhost:3306)/picly")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
}
