package progress

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
)

// PairProgress summarizes the recorded blocks of one (contract, event) pair.
type PairProgress struct {
	ContractID uint64 `meddler:"contract_id"`
	EventID    uint64 `meddler:"event_id"`
	Blocks     uint64 `meddler:"blocks"`
	FirstBlock uint64 `meddler:"first_block"`
	LastBlock  uint64 `meddler:"last_block"`
}

// Ledger records which blocks have been processed per (contract, event) pair.
// Progress is a set of block numbers rather than a single cursor, so gaps left by
// failed writes are picked up again on the next pass over their page.
type Ledger struct {
	db       *db.DB
	chain    pkgrpc.ChainClient
	finality internaltypes.BlockFinality
	log      *logger.Logger
}

// NewLedger creates a new Ledger.
func NewLedger(database *db.DB, chain pkgrpc.ChainClient, finality internaltypes.BlockFinality,
	log *logger.Logger) *Ledger {
	return &Ledger{
		db:       database,
		chain:    chain,
		finality: finality,
		log:      log,
	}
}

// MaxSyncableBlock returns the highest block that may be synced for the pair.
func (l *Ledger) MaxSyncableBlock(ctx context.Context, contractID, eventID uint64) (uint64, error) {
	head, err := l.chain.HeadBlock(ctx, l.finality)
	if err != nil {
		return 0, fmt.Errorf("contract %d event %d: %w", contractID, eventID, err)
	}

	return head, nil
}

// SyncedBlocks returns the recorded blocks of the pair within [from, to].
func (l *Ledger) SyncedBlocks(ctx context.Context, contractID, eventID, from, to uint64) (*roaring64.Bitmap, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT block_number FROM sync_progress
		WHERE contract_id = ? AND event_id = ? AND block_number >= ? AND block_number <= ?`),
		contractID, eventID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query synced blocks: %w", err)
	}
	defer rows.Close()

	synced := roaring64.New()
	for rows.Next() {
		var block uint64
		if err := rows.Scan(&block); err != nil {
			return nil, fmt.Errorf("failed to scan synced block: %w", err)
		}
		synced.Add(block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read synced blocks: %w", err)
	}

	return synced, nil
}

// Unsynced returns the blocks of page that have no progress record for the pair, ascending.
func (l *Ledger) Unsynced(ctx context.Context, contractID, eventID uint64, page Page) ([]uint64, error) {
	synced, err := l.SyncedBlocks(ctx, contractID, eventID, page.From, page.To)
	if err != nil {
		return nil, err
	}

	missing := roaring64.New()
	missing.AddRange(page.From, page.To+1)
	missing.AndNot(synced)

	l.log.Debugf("contract %d event %d page %d [%d, %d]: %d synced, %d unsynced",
		contractID, eventID, page.Number, page.From, page.To, synced.GetCardinality(), missing.GetCardinality())

	return missing.ToArray(), nil
}

// Record marks block as processed for the pair within q.
// Recording an already processed block is a no-op.
func (l *Ledger) Record(ctx context.Context, q db.Querier, contractID, eventID, block uint64) error {
	_, err := q.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO sync_progress (contract_id, event_id, block_number) VALUES (?, ?, ?)
		ON CONFLICT (contract_id, event_id, block_number) DO NOTHING`),
		contractID, eventID, block)
	if err != nil {
		return fmt.Errorf("failed to record block %d for contract %d event %d: %w", block, contractID, eventID, err)
	}

	return nil
}

// Summary returns the recorded progress of every pair.
func (l *Ledger) Summary(ctx context.Context) ([]*PairProgress, error) {
	var summary []*PairProgress
	err := l.db.Meddler().QueryAll(db.WithContext(ctx, l.db), &summary, `
		SELECT contract_id, event_id, COUNT(*) AS blocks,
			MIN(block_number) AS first_block, MAX(block_number) AS last_block
		FROM sync_progress
		GROUP BY contract_id, event_id
		ORDER BY contract_id, event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize progress: %w", err)
	}

	return summary, nil
}
