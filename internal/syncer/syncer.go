package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/metrics"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/registry"
	"github.com/goran-ethernal/ContractSync/internal/writer"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// ErrCycleRunning is returned when a sync cycle is requested while another one is in progress.
var ErrCycleRunning = errors.New("sync cycle already running")

// State is the state of the syncer.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Syncer runs sync cycles over every tracked (contract, event) pair.
type Syncer struct {
	registry *registry.Registry
	ledger   *progress.Ledger
	chain    pkgrpc.ChainClient
	decoder  *decoder.Decoder
	writer   *writer.Writer
	log      *logger.Logger

	pageSize uint64
	workers  int

	state     atomic.Int32
	lastMu    sync.RWMutex
	lastStats CycleStats
}

// New creates a new Syncer.
func New(
	cfg config.SyncConfig,
	reg *registry.Registry,
	ledger *progress.Ledger,
	chain pkgrpc.ChainClient,
	dec *decoder.Decoder,
	w *writer.Writer,
	log *logger.Logger,
) *Syncer {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = config.DefaultPageSize
	}

	return &Syncer{
		registry: reg,
		ledger:   ledger,
		chain:    chain,
		decoder:  dec,
		writer:   w,
		log:      log,
		pageSize: pageSize,
		workers:  max(cfg.Workers, 1),
	}
}

// State returns the current state.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// IsRunning reports whether a cycle is in progress.
func (s *Syncer) IsRunning() bool {
	return s.State() == StateRunning
}

// LastStats returns the summary of the last finished cycle.
func (s *Syncer) LastStats() CycleStats {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastStats
}

// RunSyncCycle syncs every pair once. If a cycle is already running it does nothing and
// returns ErrCycleRunning. Failures of single pairs, blocks and writes do not stop the cycle;
// pair failures are joined into the returned error.
func (s *Syncer) RunSyncCycle(ctx context.Context) (err error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		s.log.Info("sync cycle already running, skipping trigger")
		metrics.CycleSkippedInc()
		return ErrCycleRunning
	}

	start := time.Now()
	metrics.CycleRunningSet(true)
	stats := &counters{}

	defer func() {
		summary := stats.snapshot()
		s.lastMu.Lock()
		s.lastStats = summary
		s.lastMu.Unlock()
		summary.export()

		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.CycleLog(result, time.Since(start))
		metrics.CycleRunningSet(false)

		s.state.Store(int32(StateIdle))
	}()

	snapshot, err := s.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	stats.pairs.Store(uint64(len(snapshot.Pairs)))

	s.log.Infow("sync cycle started", "contracts", len(snapshot.Contracts), "pairs", len(snapshot.Pairs),
		"workers", s.workers)

	var (
		pairErrsMu sync.Mutex
		pairErrs   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, pair := range snapshot.Pairs {
		g.Go(func() error {
			err := s.syncPair(gctx, pair, stats)
			switch {
			case err == nil:
				return nil
			case gctx.Err() != nil:
				return err
			default:
				stats.failedPairs.Add(1)
				s.log.Errorw("pair sync failed", "contract", pair.Contract.ID, "event", pair.Def.Name, "error", err)
				pairErrsMu.Lock()
				pairErrs = append(pairErrs, err)
				pairErrsMu.Unlock()
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("sync cycle interrupted: %w", err)
	}

	summary := stats.snapshot()
	s.log.Infow("sync cycle finished",
		"duration", time.Since(start),
		"pairs", summary.Pairs,
		"failed_pairs", summary.FailedPairs,
		"pages", summary.Pages,
		"blocks_scanned", summary.BlocksScanned,
		"blocks_missing", summary.BlocksMissing,
		"occurrences", summary.Occurrences,
		"written", summary.Written,
		"write_failures", summary.WriteFailures,
		"decode_failures", summary.DecodeFailures,
	)

	return errors.Join(pairErrs...)
}

// syncPair walks the pages of one pair in ascending order and syncs their unsynced blocks.
func (s *Syncer) syncPair(ctx context.Context, pair registry.Pair, stats *counters) error {
	contract, def := pair.Contract, pair.Def

	maxBlock, err := s.ledger.MaxSyncableBlock(ctx, contract.ID, def.EventID)
	if err != nil {
		return err
	}
	metrics.MaxSyncableBlockSet(contract.ID, def.EventID, maxBlock)

	count := progress.PageCount(contract.StartingBlock, maxBlock, s.pageSize)
	if count == 0 {
		s.log.Debugw("nothing to sync", "contract", contract.ID, "event", def.Name,
			"starting_block", contract.StartingBlock, "max_syncable_block", maxBlock)
		return nil
	}

	for p := uint64(1); p <= count; p++ {
		page, _ := progress.PageAt(contract.StartingBlock, maxBlock, s.pageSize, p)

		unsynced, err := s.ledger.Unsynced(ctx, contract.ID, def.EventID, page)
		if err != nil {
			return fmt.Errorf("page %d: %w", p, err)
		}
		stats.pages.Add(1)

		for _, number := range unsynced {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.syncBlock(ctx, pair, number, stats)
		}
	}

	return nil
}

// syncBlock decodes every receipt of a block against the pair's event and writes the occurrences.
// Nothing here fails the pair; an absent or unreadable block is retried by a later cycle.
func (s *Syncer) syncBlock(ctx context.Context, pair registry.Pair, number uint64, stats *counters) {
	contract, def := pair.Contract, pair.Def

	block, err := s.chain.FetchBlock(ctx, number)
	if err != nil {
		stats.blocksMissing.Add(1)
		metrics.BlocksMissingInc(contract.ID, def.EventID)
		s.log.Warnw("failed to fetch block", "contract", contract.ID, "event", def.Name, "block", number, "error", err)
		return
	}
	if block == nil {
		stats.blocksMissing.Add(1)
		metrics.BlocksMissingInc(contract.ID, def.EventID)
		s.log.Warnw("block not found", "contract", contract.ID, "event", def.Name, "block", number)
		return
	}

	stats.blocksScanned.Add(1)
	metrics.BlocksScannedInc(contract.ID, def.EventID)

	defs := []*decoder.EventDef{def}
	for _, tx := range block.Transactions {
		result, err := s.decoder.DecodeReceipt(tx.Receipt, decoder.Source{
			ContractID:  contract.ID,
			Address:     contract.Address,
			BlockNumber: block.Number,
			TxHash:      tx.Hash,
			MhKey:       tx.MhKey,
		}, defs)
		if err != nil {
			stats.decodeFailures.Add(1)
			s.log.Warnw("failed to decode receipt", "contract", contract.ID, "event", def.Name,
				"block", number, "tx", tx.Hash.Hex(), "error", err)
			continue
		}

		stats.decodeFailures.Add(uint64(result.Failed))
		stats.occurrences.Add(uint64(len(result.Occurrences)))
		metrics.OccurrencesFoundAdd(contract.ID, def.EventID, len(result.Occurrences))

		for _, occ := range result.Occurrences {
			if err := s.writer.Write(ctx, occ); err != nil {
				stats.writeFailures.Add(1)
				s.log.Errorw("failed to write occurrence", "contract", contract.ID, "event", def.Name,
					"block", number, "tx", tx.Hash.Hex(), "log_index", occ.LogIndex, "error", err)
				continue
			}
			stats.written.Add(1)
		}
	}
}
