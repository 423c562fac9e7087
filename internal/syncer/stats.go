package syncer

import (
	"sync/atomic"

	"github.com/goran-ethernal/ContractSync/internal/metrics"
)

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	Pairs          uint64
	FailedPairs    uint64
	Pages          uint64
	BlocksScanned  uint64
	BlocksMissing  uint64
	Occurrences    uint64
	Written        uint64
	WriteFailures  uint64
	DecodeFailures uint64
}

// counters is the concurrently updated form of CycleStats.
type counters struct {
	pairs          atomic.Uint64
	failedPairs    atomic.Uint64
	pages          atomic.Uint64
	blocksScanned  atomic.Uint64
	blocksMissing  atomic.Uint64
	occurrences    atomic.Uint64
	written        atomic.Uint64
	writeFailures  atomic.Uint64
	decodeFailures atomic.Uint64
}

func (c *counters) snapshot() CycleStats {
	return CycleStats{
		Pairs:          c.pairs.Load(),
		FailedPairs:    c.failedPairs.Load(),
		Pages:          c.pages.Load(),
		BlocksScanned:  c.blocksScanned.Load(),
		BlocksMissing:  c.blocksMissing.Load(),
		Occurrences:    c.occurrences.Load(),
		Written:        c.written.Load(),
		WriteFailures:  c.writeFailures.Load(),
		DecodeFailures: c.decodeFailures.Load(),
	}
}

func (s CycleStats) export() {
	metrics.LastCycleStatSet("pairs", s.Pairs)
	metrics.LastCycleStatSet("failed_pairs", s.FailedPairs)
	metrics.LastCycleStatSet("pages", s.Pages)
	metrics.LastCycleStatSet("blocks_scanned", s.BlocksScanned)
	metrics.LastCycleStatSet("blocks_missing", s.BlocksMissing)
	metrics.LastCycleStatSet("occurrences", s.Occurrences)
	metrics.LastCycleStatSet("written", s.Written)
	metrics.LastCycleStatSet("write_failures", s.WriteFailures)
	metrics.LastCycleStatSet("decode_failures", s.DecodeFailures)
}
