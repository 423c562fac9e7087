package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goran-ethernal/ContractSync/internal/common"
	"github.com/goran-ethernal/ContractSync/internal/config"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/metrics"
	"github.com/goran-ethernal/ContractSync/internal/scheduler"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ContractSync v%s               ║
║   Incremental Contract Event Indexer      ║
╚═══════════════════════════════════════════╝
`
	shutdownTimeout = 10 * time.Second
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contractsync",
	Short: "ContractSync - incremental smart-contract event indexer",
	Long: `ContractSync periodically syncs the events of registered contracts into
a relational store. Every (contract, event) pair keeps its own set of processed
blocks, so interrupted or failed work is picked up by the next cycle.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runSyncer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(onceCmd, contractsCmd, failuresCmd, progressCmd, tableCmd, schemaCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runSyncer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentSyncer, cfg.Logging)

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, logger.NewComponentLoggerFromConfig(common.ComponentMetrics, cfg.Logging))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	sched := scheduler.New(cfg.Sync, a.syncer, logger.NewComponentLoggerFromConfig(common.ComponentScheduler, cfg.Logging))
	if cfg.Sync.Subscribe {
		sched.WithSubscription(a.chain, a.addresses)
	}
	if metricsServer != nil {
		sched.WithHealth(metricsServer)
	}

	log.Infof("Starting ContractSync, syncing every %s", cfg.Sync.Interval)
	sched.Start(ctx)

	<-ctx.Done()
	sched.Stop()

	log.Info("ContractSync stopped successfully")
	return nil
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		cycleErr := a.syncer.RunSyncCycle(ctx)
		printStats(cmd.OutOrStdout(), a.syncer.LastStats())

		if cycleErr != nil && !errors.Is(cycleErr, context.Canceled) {
			return cycleErr
		}
		return nil
	},
}
