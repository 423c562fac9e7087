package testutil

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
)

var _ pkgrpc.ChainClient = (*FakeChain)(nil)

// FakeChain is an in-memory ChainClient for tests.
type FakeChain struct {
	mu sync.Mutex

	blocks  map[uint64]*pkgrpc.Block
	head    uint64
	headErr error

	fetches   []uint64
	logs      chan types.Log
	blockHook func(number uint64)
}

// NewFakeChain creates a FakeChain whose head is head for every finality.
func NewFakeChain(head uint64) *FakeChain {
	return &FakeChain{
		blocks: make(map[uint64]*pkgrpc.Block),
		head:   head,
		logs:   make(chan types.Log, 16),
	}
}

// AddBlock adds a block; blocks that were never added are reported as absent.
func (f *FakeChain) AddBlock(block *pkgrpc.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[block.Number] = block
}

// SetHead changes the reported head.
func (f *FakeChain) SetHead(head uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head, f.headErr = head, err
}

// OnFetch installs a hook invoked before every FetchBlock.
func (f *FakeChain) OnFetch(hook func(number uint64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockHook = hook
}

// Fetches returns the block numbers requested so far, in call order.
func (f *FakeChain) Fetches() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.fetches...)
}

// EmitLog pushes a log to active subscriptions.
func (f *FakeChain) EmitLog(l types.Log) {
	f.logs <- l
}

func (f *FakeChain) Close() {}

func (f *FakeChain) FetchBlock(ctx context.Context, number uint64) (*pkgrpc.Block, error) {
	f.mu.Lock()
	hook := f.blockHook
	f.fetches = append(f.fetches, number)
	block := f.blocks[number]
	f.mu.Unlock()

	if hook != nil {
		hook(number)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return block, nil
}

func (f *FakeChain) HeadBlock(_ context.Context, _ internaltypes.BlockFinality) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *FakeChain) SubscribeLogs(ctx context.Context, _ []common.Address,
	ch chan<- types.Log) (ethereum.Subscription, error) {
	sub := &fakeSubscription{err: make(chan error), quit: make(chan struct{})}

	go func() {
		for {
			select {
			case l := <-f.logs:
				select {
				case ch <- l:
				case <-sub.quit:
					return
				}
			case <-ctx.Done():
				return
			case <-sub.quit:
				return
			}
		}
	}()

	return sub, nil
}

type fakeSubscription struct {
	once sync.Once
	err  chan error
	quit chan struct{}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.err
}
