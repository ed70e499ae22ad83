package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestDB creates an in-memory SQLite database for tests.
func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	logger := zap.NewNop().Sugar()
	sqlite, err := NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

func TestNewSQLite_InvalidPath(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := NewSQLite("", logger)
	require.Error(t, err)

	_, err = NewSQLite("../escape.db", logger)
	require.Error(t, err)

	_, err = NewSQLite("/etc/argus.db", logger)
	require.Error(t, err)
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)

	boom := errors.New("boom")
	err := db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO events (id, timestamp, source, event_type, severity, status, created_at, updated_at) VALUES ('evt-tx', '2026-01-01T00:00:00Z', 'firewall', 'test', 'low', 'new', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.ReadDB.QueryRow("SELECT COUNT(*) FROM events WHERE id = 'evt-tx'").Scan(&count))
	assert.Equal(t, 0, count)
}
