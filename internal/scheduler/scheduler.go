package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ContractSync/internal/common"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/metrics"
	"github.com/goran-ethernal/ContractSync/internal/syncer"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
)

const (
	defaultInterval         = time.Minute
	defaultResubscribeDelay = 5 * time.Second
)

// Runner runs one sync cycle.
type Runner interface {
	RunSyncCycle(ctx context.Context) error
}

// HealthReporter receives the outcome of every finished cycle.
type HealthReporter interface {
	SetHealthy(healthy bool)
}

// AddressSource returns the contract addresses to watch for new logs.
type AddressSource func(ctx context.Context) ([]common.Address, error)

// Scheduler triggers sync cycles on a fixed interval and, optionally, whenever a tracked
// contract emits a log. Triggers arriving while a cycle runs are rejected by the runner.
type Scheduler struct {
	runner       Runner
	interval     time.Duration
	runOnStartup bool
	log          *logger.Logger

	chain            pkgrpc.ChainClient
	addresses        AddressSource
	resubscribeDelay time.Duration

	health HealthReporter

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Scheduler.
func New(cfg config.SyncConfig, runner Runner, log *logger.Logger) *Scheduler {
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Scheduler{
		runner:           runner,
		interval:         interval,
		runOnStartup:     cfg.RunOnStartup,
		log:              log,
		resubscribeDelay: defaultResubscribeDelay,
		trigger:          make(chan struct{}, 1),
	}
}

// WithSubscription makes new logs of the addresses returned by source nudge the scheduler.
func (s *Scheduler) WithSubscription(chain pkgrpc.ChainClient, source AddressSource) *Scheduler {
	s.chain = chain
	s.addresses = source
	return s
}

// WithHealth reports every cycle to h: healthy after a clean cycle, unhealthy after a cycle
// that returned an error or panicked. Dropped and interrupted cycles leave the state unchanged.
func (s *Scheduler) WithHealth(h HealthReporter) *Scheduler {
	s.health = h
	return s
}

// Start starts the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	if s.chain != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.subscribeLoop(ctx)
		}()
	}

	s.log.Infow("scheduler started", "interval", s.interval, "subscribe", s.chain != nil)
}

// Stop stops scheduling and waits for the running cycle, if any, to observe cancellation.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Trigger requests a cycle outside of the interval. Pending requests coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStartup {
		s.start(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.start(ctx, "interval")
		case <-s.trigger:
			s.start(ctx, "nudge")
		}
	}
}

// start runs a cycle in its own goroutine so that a trigger arriving during a long cycle
// reaches the runner and is rejected there instead of queuing up.
func (s *Scheduler) start(ctx context.Context, reason string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCycle(ctx, reason)
	}()
}

func (s *Scheduler) runCycle(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ErrorsInc(internalcommon.ComponentScheduler, "panic")
			s.log.Errorw("sync cycle panicked", "trigger", reason, "panic", r)
			s.reportHealth(false)
		}
	}()

	err := s.runner.RunSyncCycle(ctx)
	switch {
	case err == nil:
		s.reportHealth(true)
	case errors.Is(err, syncer.ErrCycleRunning):
		s.log.Debugw("trigger dropped, cycle in progress", "trigger", reason)
	case ctx.Err() != nil:
		s.log.Infow("sync cycle interrupted by shutdown", "trigger", reason)
	default:
		metrics.ErrorsInc(internalcommon.ComponentScheduler, "error")
		s.log.Errorw("sync cycle finished with errors", "trigger", reason, "error", err)
		s.reportHealth(false)
	}
}

func (s *Scheduler) reportHealth(healthy bool) {
	metrics.ComponentHealthSet(internalcommon.ComponentSyncer, healthy)
	if s.health != nil {
		s.health.SetHealthy(healthy)
	}
}

// subscribeLoop keeps a log subscription open and nudges the scheduler on every log.
func (s *Scheduler) subscribeLoop(ctx context.Context) {
	for {
		if err := s.subscribe(ctx); err != nil {
			s.log.Warnw("log subscription failed", "error", err, "retry_in", s.resubscribeDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.resubscribeDelay):
		}
	}
}

func (s *Scheduler) subscribe(ctx context.Context) error {
	addresses, err := s.addresses(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return nil
	}

	logs := make(chan types.Log, 64) //nolint:mnd
	sub, err := s.chain.SubscribeLogs(ctx, addresses, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s.log.Debugw("subscribed to logs", "addresses", len(addresses))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case l := <-logs:
			s.log.Debugw("new log, nudging", "address", l.Address.Hex(), "block", l.BlockNumber)
			s.Trigger()
		}
	}
}
