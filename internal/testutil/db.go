package testutil

import (
	"path"
	"testing"

	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/migrations"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates a migrated temporary SQLite database that is closed when the test ends.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.NewSQLiteDB(path.Join(t.TempDir(), "contractsync.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), database))

	return database
}
