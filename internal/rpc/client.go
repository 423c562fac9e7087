package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.ChainClient interface.
var _ pkgrpc.ChainClient = (*Client)(nil)

// ErrNoSubscriptionEndpoint is returned by SubscribeLogs when no websocket endpoint is configured.
var ErrNoSubscriptionEndpoint = errors.New("log subscription requires a websocket endpoint (chain.ws_url)")

// Client fetches blocks and receipts over JSON-RPC.
// It implements the pkgrpc.ChainClient interface.
type Client struct {
	eth *ethclient.Client
	ws  *ethclient.Client

	retry        *config.RetryConfig
	finalizedLag uint64
	log          *logger.Logger
}

// NewClient dials the configured endpoints.
func NewClient(ctx context.Context, cfg config.ChainConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	c := NewClientFromRPC(rpcClient, cfg, log)

	if cfg.WSURL != "" {
		wsClient, err := rpc.DialContext(ctx, cfg.WSURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.WSURL, err)
		}
		c.ws = ethclient.NewClient(wsClient)
	}

	return c, nil
}

// NewClientFromRPC wraps an already connected RPC client.
func NewClientFromRPC(rpcClient *rpc.Client, cfg config.ChainConfig, log *logger.Logger) *Client {
	return &Client{
		eth:          ethclient.NewClient(rpcClient),
		retry:        cfg.Retry,
		finalizedLag: cfg.FinalizedLag,
		log:          log,
	}
}

// Close closes the RPC client connections.
func (c *Client) Close() {
	c.eth.Close()
	if c.ws != nil {
		c.ws.Close()
	}
}

// FetchBlock returns the block header hash and the consensus-encoded receipts of all its transactions.
func (c *Client) FetchBlock(ctx context.Context, number uint64) (*pkgrpc.Block, error) {
	header, err := c.header(ctx, "eth_getBlockByNumber", new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var receipts []*types.Receipt
	err = c.call(ctx, "eth_getBlockReceipts", func() error {
		var err error
		receipts, err = c.eth.BlockReceipts(ctx, rpc.BlockNumberOrHashWithHash(header.Hash(), false))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get receipts of block %d: %w", number, err)
	}

	block := &pkgrpc.Block{
		Number:       number,
		Hash:         header.Hash(),
		Transactions: make([]pkgrpc.Transaction, 0, len(receipts)),
	}

	for _, r := range receipts {
		raw, err := r.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode receipt of tx %s: %w", r.TxHash.Hex(), err)
		}

		block.Transactions = append(block.Transactions, pkgrpc.Transaction{
			Hash:    r.TxHash,
			Index:   r.TransactionIndex,
			Receipt: raw,
			MhKey:   MhKey(raw),
		})
	}

	return block, nil
}

// HeadBlock returns the highest block number for the given finality.
// For latest, the configured finalized lag is subtracted.
func (c *Client) HeadBlock(ctx context.Context, finality internaltypes.BlockFinality) (uint64, error) {
	number, err := finality.BlockNumber()
	if err != nil {
		return 0, err
	}

	header, err := c.header(ctx, "eth_getBlockByNumber_"+finality.String(), number)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s block: %w", finality, err)
	}

	return finality.MaxSyncable(header.Number.Uint64(), c.finalizedLag), nil
}

// SubscribeLogs subscribes to new logs of the given addresses over the websocket endpoint.
func (c *Client) SubscribeLogs(ctx context.Context, addresses []common.Address,
	ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, ErrNoSubscriptionEndpoint
	}

	RPCMethodInc("eth_subscribe_logs")

	sub, err := c.ws.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addresses}, ch)
	if err != nil {
		RPCMethodError("eth_subscribe_logs", "subscribe")
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}

	return sub, nil
}

func (c *Client) header(ctx context.Context, method string, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, method, func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})

	return header, err
}

// call executes fn with retries and records request metrics under method.
// ethereum.NotFound is returned as is and never retried.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	defer func() {
		RPCMethodDuration(method, time.Since(start))
	}()

	RPCMethodInc(method)

	err := retryWithBackoff(ctx, c.retry, method, func() error {
		err := fn()
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.log.Debugf("%s failed: %v", method, err)
		}
		return err
	})
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		RPCMethodError(method, errorType(err))
	}

	return err
}

// MhKey derives the content identifier of a consensus-encoded receipt.
func MhKey(receipt []byte) string {
	return fmt.Sprintf("/blocks/%x", crypto.Keccak256(receipt))
}
