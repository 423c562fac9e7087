package writer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/schema"
	"github.com/goran-ethernal/ContractSync/internal/testutil"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func newTestWriter(t *testing.T) (*Writer, *db.DB, *progress.Ledger) {
	t.Helper()

	database := testutil.NewTestDB(t)
	log := logger.NewNopLogger()
	ledger := progress.NewLedger(database, testutil.NewFakeChain(0), internaltypes.FinalityLatest, log)
	w := New(database, schema.NewAdapter(database, log), ledger, log)
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	return w, database, ledger
}

func transfer(block uint64, logIndex uint, value int64) decoder.Occurrence {
	return decoder.Occurrence{
		ContractID:  1,
		EventID:     10,
		EventName:   "Transfer",
		MhKey:       "/blocks/abcd",
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		LogIndex:    logIndex,
		Fields: []decoder.Field{
			{Name: "from", ABIType: "address", Indexed: true, Value: decoder.AddressValue(alice)},
			{Name: "to", ABIType: "address", Indexed: true, Value: decoder.AddressValue(bob)},
			{Name: "value", ABIType: "uint256", Value: decoder.IntegerValue(big.NewInt(value))},
		},
	}
}

func countRows(t *testing.T, database *db.DB, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, database.QueryRow(database.Rebind(query), args...).Scan(&n))
	return n
}

func TestWrite_RowAndProgressTogether(t *testing.T) {
	ctx := context.Background()
	w, database, ledger := newTestWriter(t)

	require.NoError(t, w.Write(ctx, transfer(100, 0, 5)))
	require.NoError(t, w.Write(ctx, transfer(100, 1, 7)))

	require.Equal(t, 2, countRows(t, database, "SELECT COUNT(*) FROM event_for_contract_id_1"))
	require.Equal(t, 1, countRows(t, database, "SELECT COUNT(*) FROM sync_progress WHERE block_number = ?", 100))

	var from, value string
	require.NoError(t, database.QueryRow(
		"SELECT data_from, data_value FROM event_for_contract_id_1 ORDER BY event_data_id LIMIT 1").Scan(&from, &value))
	require.Equal(t, "0x00000000000000000000000000000000000a11ce", from)
	require.Equal(t, "5", value)

	synced, err := ledger.SyncedBlocks(ctx, 1, 10, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, []uint64{100}, synced.ToArray())
}

func TestWrite_SchemaMismatchRecordsFailure(t *testing.T) {
	ctx := context.Background()
	w, database, ledger := newTestWriter(t)

	require.NoError(t, w.Write(ctx, transfer(100, 0, 5)))

	bad := transfer(101, 0, 5)
	bad.Fields = append(bad.Fields, decoder.Field{Name: "memo", ABIType: "string", Value: decoder.TextValue("hi")})

	err := w.Write(ctx, bad)
	require.ErrorIs(t, err, schema.ErrSchemaMismatch)
	require.ErrorContains(t, err, "block 101")

	// nothing of the failed write is visible
	require.Equal(t, 1, countRows(t, database, "SELECT COUNT(*) FROM event_for_contract_id_1"))
	synced, err := ledger.SyncedBlocks(ctx, 1, 10, 0, 1000)
	require.NoError(t, err)
	require.False(t, synced.Contains(101))

	require.Error(t, w.Write(ctx, bad))

	failures, err := w.Failures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, string(KindSchemaMismatch), failures[0].Kind)
	require.Equal(t, uint64(101), failures[0].BlockNumber)
	require.Equal(t, uint64(2), failures[0].Attempts)
	require.Equal(t, bad.TxHash.Hex(), failures[0].TxHash)
	require.Contains(t, failures[0].Error, "unknown column data_memo")
}

func TestWrite_SiblingSuccessMarksBlockSynced(t *testing.T) {
	ctx := context.Background()
	w, database, ledger := newTestWriter(t)

	require.NoError(t, w.Write(ctx, transfer(100, 0, 5)))

	bad := transfer(200, 0, 5)
	bad.Fields = append(bad.Fields, decoder.Field{Name: "memo", ABIType: "string", Value: decoder.TextValue("hi")})
	require.ErrorIs(t, w.Write(ctx, bad), schema.ErrSchemaMismatch)
	require.NoError(t, w.Write(ctx, transfer(200, 1, 7)))

	// progress is kept per block, so the failed sibling is not revisited by later cycles
	unsynced, err := ledger.Unsynced(ctx, 1, 10, progress.Page{Number: 1, From: 200, To: 200})
	require.NoError(t, err)
	require.Empty(t, unsynced)
	require.Equal(t, 1, countRows(t, database, "SELECT COUNT(*) FROM event_for_contract_id_1 WHERE data_value = ?", "7"))

	// the failure ledger is the only trace of it
	failures, err := w.Failures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, uint64(200), failures[0].BlockNumber)
	require.Equal(t, uint(0), failures[0].LogIndex)
}

func TestWrite_PersistenceFailureThenRecovery(t *testing.T) {
	ctx := context.Background()
	w, database, _ := newTestWriter(t)

	require.NoError(t, w.Write(ctx, transfer(100, 0, 5)))

	// the cached schema survives the table being dropped underneath it
	_, err := database.Exec("DROP TABLE event_for_contract_id_1")
	require.NoError(t, err)

	occ := transfer(102, 3, 9)
	err = w.Write(ctx, occ)
	require.Error(t, err)
	require.NotErrorIs(t, err, schema.ErrSchemaMismatch)

	failures, err := w.Failures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, string(KindPersistence), failures[0].Kind)
	require.Equal(t, uint(3), failures[0].LogIndex)
	require.Equal(t, int64(1_700_000_000), failures[0].FirstSeen)

	// once the table is back the same occurrence goes through and its failure is cleared
	_, err = database.Exec(`CREATE TABLE event_for_contract_id_1 (
		event_data_id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id BIGINT NOT NULL, contract_id BIGINT NOT NULL, mh_key TEXT NOT NULL,
		data_from VARCHAR(66), data_to VARCHAR(66), data_value TEXT)`)
	require.NoError(t, err)

	require.NoError(t, w.Write(ctx, occ))

	failures, err = w.Failures(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestFailures_Limit(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWriter(t)

	require.NoError(t, w.Write(ctx, transfer(100, 0, 5)))

	for i := range 3 {
		bad := transfer(200+uint64(i), 0, 1)
		bad.Fields = bad.Fields[:1]
		require.Error(t, w.Write(ctx, bad))
	}

	failures, err := w.Failures(ctx, 2)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	require.Equal(t, uint64(202), failures[0].BlockNumber)
}
