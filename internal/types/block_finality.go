package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
)

// BlockFinality selects which chain head bounds the highest syncable block.
type BlockFinality string

const (
	// FinalityFinalized bounds syncing by the finalized block
	FinalityFinalized BlockFinality = "finalized"

	// FinalitySafe bounds syncing by the safe block
	FinalitySafe BlockFinality = "safe"

	// FinalityLatest bounds syncing by the latest block minus a configured lag
	FinalityLatest BlockFinality = "latest"
)

func (f BlockFinality) String() string {
	return string(f)
}

// IsValid checks if the BlockFinality value is valid.
func (f BlockFinality) IsValid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// BlockNumber returns the block tag to request the head with; nil requests the latest block.
func (f BlockFinality) BlockNumber() (*big.Int, error) {
	switch f {
	case FinalityFinalized:
		return big.NewInt(int64(rpc.FinalizedBlockNumber)), nil
	case FinalitySafe:
		return big.NewInt(int64(rpc.SafeBlockNumber)), nil
	case FinalityLatest:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid block finality: %s", f)
	}
}

// MaxSyncable returns the highest syncable block given a head fetched for f.
// Only the latest head is lowered by lag, saturating at zero.
func (f BlockFinality) MaxSyncable(head, lag uint64) uint64 {
	if f != FinalityLatest {
		return head
	}
	if head < lag {
		return 0
	}
	return head - lag
}

// ParseBlockFinality parses a string into a BlockFinality type.
func ParseBlockFinality(s string) (BlockFinality, error) {
	f := BlockFinality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid block finality: %s (must be one of: finalized, safe, latest)", s)
	}
	return f, nil
}
