package db

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
)

const testMigration = `
-- +migrate Down
DROP TABLE IF EXISTS holders;

-- +migrate Up
CREATE TABLE holders (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    address TEXT NOT NULL,
    tx_hash TEXT
);
`

type holder struct {
	ID      int64          `meddler:"id,pk"`
	Address common.Address `meddler:"address,address"`
	TxHash  common.Hash    `meddler:"tx_hash,hash"`
}

func newTestDB(t *testing.T) *DB {
	t.Helper()

	d, err := NewSQLiteDB(path.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	return d
}

func TestRunMigrations(t *testing.T) {
	d := newTestDB(t)
	log := logger.NewNopLogger()
	migs := []Migration{{ID: "001_holders.sql", SQL: testMigration}}

	require.NoError(t, RunMigrations(log, d, migs))
	// second run is a no-op
	require.NoError(t, RunMigrations(log, d, migs))

	_, err := d.Exec(`INSERT INTO holders (address) VALUES ('0x01')`)
	require.NoError(t, err)

	require.NoError(t, RunMigrationsExtended(log, d, migs, migrate.Down, NoLimitMigrations))

	_, err = d.Exec(`INSERT INTO holders (address) VALUES ('0x01')`)
	require.Error(t, err)
}

func TestRunMigrations_MissingSeparator(t *testing.T) {
	d := newTestDB(t)

	err := RunMigrations(logger.NewNopLogger(), d, []Migration{{ID: "bad.sql", SQL: "CREATE TABLE x (id INTEGER);"}})
	require.ErrorContains(t, err, "missing '-- +migrate Up' separator")
}

func TestEngineQueryAndRebind(t *testing.T) {
	d := newTestDB(t)
	require.Equal(t, EngineSQLite, d.Engine())

	q := d.EngineQuery(map[Engine]string{
		EnginePostgres: "pg",
		EngineAny:      "any",
	})
	require.Equal(t, "any", q)

	q = d.EngineQuery(map[Engine]string{EngineSQLite: "lite", EngineAny: "any"})
	require.Equal(t, "lite", q)

	require.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", d.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	pg := &DB{engine: EnginePostgres}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
}

func TestEnsureTableAndInsertRow(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	cols := []Column{
		{Name: "event_id", Type: "INTEGER", NotNull: true},
		{Name: "data_value", Type: "TEXT"},
	}

	require.NoError(t, d.EnsureTable(ctx, d, "event_for_contract_id_1", "event_data_id", cols))
	// idempotent
	require.NoError(t, d.EnsureTable(ctx, d, "event_for_contract_id_1", "event_data_id", cols))

	require.NoError(t, d.InsertRow(ctx, d, "event_for_contract_id_1",
		[]string{"event_id", "data_value"}, []any{7, "1000000000000000000000"}))
	require.NoError(t, d.InsertRow(ctx, d, "event_for_contract_id_1",
		[]string{"event_id", "data_value"}, []any{7, "1"}))

	var (
		maxID int64
		value string
	)
	require.NoError(t, d.QueryRow(`SELECT MAX(event_data_id) FROM event_for_contract_id_1`).Scan(&maxID))
	require.Equal(t, int64(2), maxID)

	require.NoError(t, d.QueryRow(`SELECT data_value FROM event_for_contract_id_1 WHERE event_data_id = 1`).Scan(&value))
	require.Equal(t, "1000000000000000000000", value)
}

func TestEnsureTable_InvalidIdentifiers(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.ErrorContains(t, d.EnsureTable(ctx, d, "bad-name", "id", nil), "invalid table name")
	require.ErrorContains(t, d.EnsureTable(ctx, d, "t", "id", []Column{{Name: "x; DROP", Type: "TEXT"}}),
		"invalid column name")
	require.ErrorContains(t, d.InsertRow(ctx, d, "t", []string{"Value"}, []any{1}), "invalid column name")
	require.ErrorContains(t, d.InsertRow(ctx, d, "t", []string{"a", "b"}, []any{1}), "2 columns but 1 values")
}

func TestExecuteInTx(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, RunMigrations(logger.NewNopLogger(), d, []Migration{{ID: "001", SQL: testMigration}}))

	errBoom := errors.New("boom")
	err := d.ExecuteInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO holders (address) VALUES ('0x01')`); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	var count int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM holders`).Scan(&count))
	require.Zero(t, count, "rolled back insert must not be visible")

	require.NoError(t, d.ExecuteInTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO holders (address) VALUES ('0x01')`)
		return err
	}))
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM holders`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestMeddlers(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, RunMigrations(logger.NewNopLogger(), d, []Migration{{ID: "001", SQL: testMigration}}))

	h := &holder{
		Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		TxHash:  common.HexToHash("0xabc"),
	}
	require.NoError(t, d.Meddler().Insert(d, "holders", h))
	require.NotZero(t, h.ID)

	var stored string
	require.NoError(t, d.QueryRow(`SELECT address FROM holders WHERE id = ?`, h.ID).Scan(&stored))
	require.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", stored)

	var loaded holder
	require.NoError(t, d.Meddler().Load(d, "holders", &loaded, h.ID))
	require.Equal(t, h.Address, loaded.Address)
	require.Equal(t, h.TxHash, loaded.TxHash)

	// zero hash is stored as NULL and read back as zero
	empty := &holder{Address: common.HexToAddress("0x01")}
	require.NoError(t, d.Meddler().Insert(d, "holders", empty))
	require.NoError(t, d.Meddler().Load(d, "holders", &loaded, empty.ID))
	require.Equal(t, common.Hash{}, loaded.TxHash)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(configWithDriver("mysql"))
	require.ErrorContains(t, err, "unsupported database driver")
}

func configWithDriver(driver string) config.DatabaseConfig {
	cfg := config.DatabaseConfig{Driver: driver}
	cfg.ApplyDefaults()
	return cfg
}
