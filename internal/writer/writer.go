package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/schema"
)

// FailureKind classifies a failed write.
type FailureKind string

const (
	KindSchemaMismatch FailureKind = "schema_mismatch"
	KindPersistence    FailureKind = "persistence"
)

// Failure is a write that could not be committed.
// A failure is keyed by the occurrence it belongs to and is removed once that occurrence is written.
type Failure struct {
	ID          uint64 `meddler:"id,pk"`
	ContractID  uint64 `meddler:"contract_id"`
	EventID     uint64 `meddler:"event_id"`
	BlockNumber uint64 `meddler:"block_number"`
	TxHash      string `meddler:"tx_hash"`
	LogIndex    uint   `meddler:"log_index"`
	Kind        string `meddler:"kind"`
	Error       string `meddler:"error"`
	Attempts    uint64 `meddler:"attempts"`
	FirstSeen   int64  `meddler:"first_seen"`
	LastSeen    int64  `meddler:"last_seen"`
}

// Writer stores decoded occurrences together with the progress record of their block.
type Writer struct {
	db     *db.DB
	schema *schema.Adapter
	ledger *progress.Ledger
	log    *logger.Logger

	now func() time.Time
}

// New creates a new Writer.
func New(database *db.DB, adapter *schema.Adapter, ledger *progress.Ledger, log *logger.Logger) *Writer {
	return &Writer{
		db:     database,
		schema: adapter,
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}
}

// Write stores occ in its contract's event table and marks its block as synced for the pair,
// both in one transaction. On failure nothing is stored, the failure is recorded and the error is returned.
func (w *Writer) Write(ctx context.Context, occ decoder.Occurrence) error {
	start := time.Now()

	err := w.db.ExecuteInTx(ctx, func(tx *sql.Tx) error {
		table, err := w.schema.Ensure(ctx, tx, occ.ContractID, occ)
		if err != nil {
			return err
		}

		columns, values, err := table.Row(occ)
		if err != nil {
			return err
		}

		if err := w.db.InsertRow(ctx, tx, table.Name, columns, values); err != nil {
			return err
		}

		if err := w.ledger.Record(ctx, tx, occ.ContractID, occ.EventID, occ.BlockNumber); err != nil {
			return err
		}

		return w.resolveFailure(ctx, tx, occ)
	})
	if err != nil {
		kind := KindPersistence
		if errors.Is(err, schema.ErrSchemaMismatch) {
			kind = KindSchemaMismatch
		}
		writeFailureInc(kind)

		if recErr := w.recordFailure(ctx, occ, kind, err); recErr != nil {
			w.log.Errorw("failed to record write failure", "contract", occ.ContractID, "event", occ.EventID,
				"block", occ.BlockNumber, "error", recErr)
		}

		return fmt.Errorf("contract %d event %s block %d tx %s log %d: %w",
			occ.ContractID, occ.EventName, occ.BlockNumber, occ.TxHash.Hex(), occ.LogIndex, err)
	}

	rowWrittenLog(time.Since(start))

	return nil
}

func (w *Writer) recordFailure(ctx context.Context, occ decoder.Occurrence, kind FailureKind, cause error) error {
	now := w.now().Unix()

	_, err := w.db.ExecContext(ctx, w.db.Rebind(`
		INSERT INTO sync_failures
			(contract_id, event_id, block_number, tx_hash, log_index, kind, error, attempts, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (contract_id, event_id, block_number, tx_hash, log_index) DO UPDATE SET
			kind = excluded.kind,
			error = excluded.error,
			attempts = sync_failures.attempts + 1,
			last_seen = excluded.last_seen`),
		occ.ContractID, occ.EventID, occ.BlockNumber, occ.TxHash.Hex(), occ.LogIndex,
		string(kind), cause.Error(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert sync failure: %w", err)
	}

	return nil
}

func (w *Writer) resolveFailure(ctx context.Context, q db.Querier, occ decoder.Occurrence) error {
	_, err := q.ExecContext(ctx, w.db.Rebind(`
		DELETE FROM sync_failures
		WHERE contract_id = ? AND event_id = ? AND block_number = ? AND tx_hash = ? AND log_index = ?`),
		occ.ContractID, occ.EventID, occ.BlockNumber, occ.TxHash.Hex(), occ.LogIndex)
	if err != nil {
		return fmt.Errorf("failed to resolve sync failure: %w", err)
	}

	return nil
}

// Failures returns up to limit recorded failures, most recent first. A limit of 0 returns all of them.
func (w *Writer) Failures(ctx context.Context, limit int) ([]*Failure, error) {
	query := "SELECT * FROM sync_failures ORDER BY last_seen DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var failures []*Failure
	if err := w.db.Meddler().QueryAll(db.WithContext(ctx, w.db), &failures, w.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list sync failures: %w", err)
	}

	return failures, nil
}
