package main

import (
	"context"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ContractSync/internal/common"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/migrations"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/registry"
	"github.com/goran-ethernal/ContractSync/internal/rpc"
	"github.com/goran-ethernal/ContractSync/internal/schema"
	"github.com/goran-ethernal/ContractSync/internal/syncer"
	internaltypes "github.com/goran-ethernal/ContractSync/internal/types"
	"github.com/goran-ethernal/ContractSync/internal/writer"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ContractSync/pkg/rpc"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg *config.Config

	db       *db.DB
	chain    pkgrpc.ChainClient
	registry *registry.Registry
	ledger   *progress.Ledger
	schema   *schema.Adapter
	writer   *writer.Writer
	syncer   *syncer.Syncer
}

// newApp opens and migrates the database, seeds the registry from the configuration and
// wires the sync components. The chain client is only dialed when withChain is set.
func newApp(ctx context.Context, cfg *config.Config, withChain bool) (*app, error) {
	componentLog := func(component string) *logger.Logger {
		return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{cfg: cfg, db: database}

	if err := migrations.RunMigrations(componentLog(common.ComponentDB), database); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.registry = registry.New(database, componentLog(common.ComponentRegistry))
	if err := a.registry.Seed(ctx, cfg.Registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed registry: %w", err)
	}

	if withChain {
		client, err := rpc.NewClient(ctx, cfg.Chain, componentLog(common.ComponentChain))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create chain client: %w", err)
		}
		a.chain = client
	}

	finality, err := internaltypes.ParseBlockFinality(cfg.Chain.Finality)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger = progress.NewLedger(database, a.chain, finality, componentLog(common.ComponentProgress))
	a.schema = schema.NewAdapter(database, componentLog(common.ComponentSchema))
	a.writer = writer.New(database, a.schema, a.ledger, componentLog(common.ComponentWriter))
	a.syncer = syncer.New(cfg.Sync, a.registry, a.ledger, a.chain,
		decoder.New(componentLog(common.ComponentDecoder)), a.writer, componentLog(common.ComponentSyncer))

	return a, nil
}

// addresses returns the addresses of the registered contracts.
func (a *app) addresses(ctx context.Context) ([]ethcommon.Address, error) {
	snapshot, err := a.registry.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Addresses(), nil
}

// Close releases the chain client and the database.
func (a *app) Close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
