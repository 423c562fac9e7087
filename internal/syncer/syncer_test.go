package syncer

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/registry"
	"github.com/goran-ethernal/ContractSync/internal/schema"
	"github.com/goran-ethernal/ContractSync/internal/testutil"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	"github.com/goran-ethernal/ContractSync/internal/writer"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
	"github.com/stretchr/testify/require"
)

const (
	transferSig = "Transfer(address indexed from, address indexed to, uint256 value)"
	approvalSig = "Approval(address indexed owner, address indexed spender, uint256 value)"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000AAAA")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000BBBB")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000B0B")

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

type testEnv struct {
	syncer *Syncer
	chain  *testutil.FakeChain
	db     *db.DB
	writer *writer.Writer
}

func newTestEnv(t *testing.T, head uint64, workers int, regCfg config.RegistryConfig) *testEnv {
	t.Helper()

	ctx := context.Background()
	database := testutil.NewTestDB(t)
	log := logger.NewNopLogger()
	chain := testutil.NewFakeChain(head)

	reg := registry.New(database, log)
	require.NoError(t, reg.Seed(ctx, regCfg))

	ledger := progress.NewLedger(database, chain, internaltypes.FinalityFinalized, log)
	w := writer.New(database, schema.NewAdapter(database, log), ledger, log)
	s := New(config.SyncConfig{PageSize: 10, Workers: workers}, reg, ledger, chain, decoder.New(log), w, log)

	return &testEnv{syncer: s, chain: chain, db: database, writer: w}
}

func erc20Registry(contracts ...common.Address) config.RegistryConfig {
	reg := config.RegistryConfig{
		Events: []config.EventConfig{{ID: 1, Name: "Transfer"}},
	}
	for i, addr := range contracts {
		reg.Contracts = append(reg.Contracts, config.ContractConfig{
			ID:      uint64(i + 1),
			Address: addr.Hex(),
			Events:  []string{transferSig},
		})
	}
	return reg
}

func eventLog(contract common.Address, topic common.Hash, from, to common.Address, value int64) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{topic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func receipt(t *testing.T, logs ...*types.Log) []byte {
	t.Helper()

	r := &types.Receipt{Type: types.DynamicFeeTxType, Status: types.ReceiptStatusSuccessful, Logs: logs}
	raw, err := r.MarshalBinary()
	require.NoError(t, err)
	return raw
}

// addBlocks adds empty blocks for every number in [from, to].
func (e *testEnv) addBlocks(from, to uint64) {
	for n := from; n <= to; n++ {
		e.chain.AddBlock(&pkgrpc.Block{Number: n, Hash: common.BigToHash(new(big.Int).SetUint64(n))})
	}
}

func (e *testEnv) addBlockWithReceipts(t *testing.T, number uint64, receipts ...[]byte) {
	t.Helper()

	block := &pkgrpc.Block{Number: number, Hash: common.BigToHash(new(big.Int).SetUint64(number))}
	for i, raw := range receipts {
		block.Transactions = append(block.Transactions, pkgrpc.Transaction{
			Hash:    common.BigToHash(big.NewInt(int64(number*100) + int64(i))),
			Index:   uint(i),
			Receipt: raw,
			MhKey:   "/blocks/test",
		})
	}
	e.chain.AddBlock(block)
}

func (e *testEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, e.db.QueryRow(e.db.Rebind(query), args...).Scan(&n))
	return n
}

func (e *testEnv) syncedBlocks(t *testing.T, contractID, eventID uint64) []uint64 {
	t.Helper()

	rows, err := e.db.Query("SELECT block_number FROM sync_progress WHERE contract_id = ? AND event_id = ? ORDER BY block_number",
		contractID, eventID)
	require.NoError(t, err)
	defer rows.Close()

	var blocks []uint64
	for rows.Next() {
		var b uint64
		require.NoError(t, rows.Scan(&b))
		blocks = append(blocks, b)
	}
	require.NoError(t, rows.Err())
	return blocks
}

func TestRunSyncCycle_RecordsEachMatchingBlockOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 25, 1, erc20Registry(tokenA))

	env.addBlocks(0, 25)
	env.addBlockWithReceipts(t, 3, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 1)))
	// two occurrences in one block spread over two transactions, one of them with two logs
	env.addBlockWithReceipts(t, 12,
		receipt(t, eventLog(tokenA, transferTopic, alice, bob, 2), eventLog(tokenA, transferTopic, bob, alice, 3)),
		receipt(t, eventLog(tokenA, transferTopic, bob, bob, 4)))
	// foreign contract and foreign event are ignored
	env.addBlockWithReceipts(t, 7, receipt(t,
		eventLog(tokenB, transferTopic, alice, bob, 5),
		eventLog(tokenA, approvalTopic, alice, bob, 6)))
	env.addBlockWithReceipts(t, 21, receipt(t, eventLog(tokenA, transferTopic, alice, alice, 7)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	require.Equal(t, []uint64{3, 12, 21}, env.syncedBlocks(t, 1, 1))
	require.Equal(t, 5, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_1"))
	require.Equal(t, 5, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_1 WHERE event_id = 1 AND contract_id = 1"))

	stats := env.syncer.LastStats()
	require.Equal(t, CycleStats{
		Pairs:         1,
		Pages:         3,
		BlocksScanned: 26,
		Occurrences:   5,
		Written:       5,
	}, stats)
	require.False(t, env.syncer.IsRunning())
	require.Equal(t, StateIdle, env.syncer.State())

	// blocks and pages are visited in ascending order
	fetches := env.chain.Fetches()
	require.Len(t, fetches, 26)
	for i := 1; i < len(fetches); i++ {
		require.Less(t, fetches[i-1], fetches[i])
	}
}

func TestRunSyncCycle_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 25, 1, erc20Registry(tokenA))

	env.addBlocks(0, 25)
	env.addBlockWithReceipts(t, 3, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 1)))
	env.addBlockWithReceipts(t, 21, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 2)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))
	before := len(env.chain.Fetches())

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	require.Equal(t, []uint64{3, 21}, env.syncedBlocks(t, 1, 1))
	require.Equal(t, 2, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_1"))
	require.Equal(t, 2, env.count(t, "SELECT COUNT(*) FROM sync_progress"))

	// recorded blocks are not fetched again
	second := env.chain.Fetches()[before:]
	require.NotContains(t, second, uint64(3))
	require.NotContains(t, second, uint64(21))
	require.Len(t, second, 24)
}

func TestRunSyncCycle_MissingBlockIsRetriedLater(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 9, 1, erc20Registry(tokenA))

	env.addBlocks(0, 4)
	env.addBlocks(6, 9)

	require.NoError(t, env.syncer.RunSyncCycle(ctx))
	require.Equal(t, uint64(1), env.syncer.LastStats().BlocksMissing)
	require.Empty(t, env.syncedBlocks(t, 1, 1))

	env.addBlockWithReceipts(t, 5, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 9)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))
	require.Equal(t, uint64(0), env.syncer.LastStats().BlocksMissing)
	require.Equal(t, []uint64{5}, env.syncedBlocks(t, 1, 1))
}

func TestRunSyncCycle_StartingBlockAndHead(t *testing.T) {
	ctx := context.Background()
	reg := erc20Registry(tokenA)
	reg.Contracts[0].StartingBlock = 30
	env := newTestEnv(t, 20, 1, reg)

	require.NoError(t, env.syncer.RunSyncCycle(ctx))
	require.Empty(t, env.chain.Fetches())
	require.Equal(t, uint64(0), env.syncer.LastStats().Pages)

	env.chain.SetHead(34, nil)
	env.addBlocks(30, 34)

	require.NoError(t, env.syncer.RunSyncCycle(ctx))
	require.Equal(t, []uint64{30, 31, 32, 33, 34}, env.chain.Fetches())
}

func TestRunSyncCycle_ConcurrentTriggerIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 1, erc20Registry(tokenA))
	env.addBlocks(0, 0)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.chain.OnFetch(func(uint64) {
		once.Do(func() { close(entered) })
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- env.syncer.RunSyncCycle(ctx) }()

	<-entered
	require.True(t, env.syncer.IsRunning())
	require.Equal(t, StateRunning, env.syncer.State())
	require.ErrorIs(t, env.syncer.RunSyncCycle(ctx), ErrCycleRunning)

	close(release)
	require.NoError(t, <-done)
	require.False(t, env.syncer.IsRunning())

	// the rejected trigger did no work
	require.Equal(t, []uint64{0}, env.chain.Fetches())
}

func TestRunSyncCycle_ParallelPairs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 19, 4, erc20Registry(tokenA, tokenB))

	env.addBlocks(0, 19)
	env.addBlockWithReceipts(t, 2, receipt(t,
		eventLog(tokenA, transferTopic, alice, bob, 1),
		eventLog(tokenB, transferTopic, alice, bob, 2)))
	env.addBlockWithReceipts(t, 15, receipt(t, eventLog(tokenB, transferTopic, bob, alice, 3)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	require.Equal(t, []uint64{2}, env.syncedBlocks(t, 1, 1))
	require.Equal(t, []uint64{2, 15}, env.syncedBlocks(t, 2, 1))
	require.Equal(t, 1, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_1"))
	require.Equal(t, 2, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_2"))
	require.Equal(t, uint64(2), env.syncer.LastStats().Pairs)
	require.Equal(t, uint64(4), env.syncer.LastStats().Pages)
}

func TestRunSyncCycle_WriteFailureDoesNotAbortCycle(t *testing.T) {
	ctx := context.Background()
	reg := config.RegistryConfig{
		Events: []config.EventConfig{{ID: 1, Name: "Transfer"}, {ID: 2, Name: "Approval"}},
		Contracts: []config.ContractConfig{{
			ID: 1, Address: tokenA.Hex(), Events: []string{transferSig, approvalSig},
		}},
	}
	env := newTestEnv(t, 9, 1, reg)

	env.addBlocks(0, 9)
	env.addBlockWithReceipts(t, 1, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 1)))
	env.addBlockWithReceipts(t, 4, receipt(t, eventLog(tokenA, approvalTopic, alice, bob, 2)))
	env.addBlockWithReceipts(t, 8, receipt(t, eventLog(tokenA, transferTopic, bob, alice, 3)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	// the Transfer pair runs first and freezes the table shape; Approval does not fit it
	require.Equal(t, []uint64{1, 8}, env.syncedBlocks(t, 1, 1))
	require.Empty(t, env.syncedBlocks(t, 1, 2))

	stats := env.syncer.LastStats()
	require.Equal(t, uint64(3), stats.Occurrences)
	require.Equal(t, uint64(2), stats.Written)
	require.Equal(t, uint64(1), stats.WriteFailures)

	failures, err := env.writer.Failures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, string(writer.KindSchemaMismatch), failures[0].Kind)
	require.Equal(t, uint64(4), failures[0].BlockNumber)
}

func TestRunSyncCycle_PartialFirstOccurrenceDoesNotBlockLaterBlocks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 9, 1, erc20Registry(tokenA))

	partial := eventLog(tokenA, transferTopic, alice, bob, 1)
	partial.Topics = partial.Topics[:2]

	env.addBlocks(0, 9)
	env.addBlockWithReceipts(t, 1, receipt(t, partial))
	env.addBlockWithReceipts(t, 5, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 2)))
	env.addBlockWithReceipts(t, 7, receipt(t, eventLog(tokenA, transferTopic, bob, alice, 3)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	require.Equal(t, []uint64{1, 5, 7}, env.syncedBlocks(t, 1, 1))
	require.Equal(t, uint64(0), env.syncer.LastStats().WriteFailures)
	require.Equal(t, 2, env.count(t, "SELECT COUNT(*) FROM event_for_contract_id_1 WHERE data_to IS NOT NULL"))

	failures, err := env.writer.Failures(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestRunSyncCycle_MalformedReceiptCountsAsDecodeFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 1, erc20Registry(tokenA))

	env.addBlocks(0, 2)
	env.addBlockWithReceipts(t, 1, []byte{0x02, 0xc0}, receipt(t, eventLog(tokenA, transferTopic, alice, bob, 1)))

	require.NoError(t, env.syncer.RunSyncCycle(ctx))

	stats := env.syncer.LastStats()
	require.Equal(t, uint64(1), stats.DecodeFailures)
	require.Equal(t, uint64(1), stats.Written)
	require.Equal(t, []uint64{1}, env.syncedBlocks(t, 1, 1))
}

func TestRunSyncCycle_HeadFailureFailsOnlyThePair(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 1, erc20Registry(tokenA))
	env.chain.SetHead(0, context.DeadlineExceeded)

	err := env.syncer.RunSyncCycle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, uint64(1), env.syncer.LastStats().FailedPairs)
	require.False(t, env.syncer.IsRunning())
}
