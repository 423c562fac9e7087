package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
)

// Transaction is one transaction of a block together with its consensus-encoded receipt.
type Transaction struct {
	Hash  common.Hash
	Index uint

	// Receipt is the consensus encoding of the receipt (RLP, with a type prefix for typed receipts)
	Receipt []byte

	// MhKey is an opaque content identifier of the block data backing the receipt
	MhKey string
}

// Block is a block with the receipts of all of its transactions.
type Block struct {
	Number       uint64
	Hash         common.Hash
	Transactions []Transaction
}

// ChainClient defines the chain data operations the syncer depends on.
// This abstraction allows for easier testing and alternative implementations.
type ChainClient interface {
	// Close closes the underlying connections.
	Close()

	// FetchBlock returns the block with its receipts, or nil and no error if the block does not exist.
	FetchBlock(ctx context.Context, number uint64) (*Block, error)

	// HeadBlock returns the highest block number for the given finality.
	HeadBlock(ctx context.Context, finality internaltypes.BlockFinality) (uint64, error)

	// SubscribeLogs streams new logs emitted by any of the given addresses.
	SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
}
