package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/pkg/config"
)

// Event is a tracked event type, shared across contracts.
type Event struct {
	ID   uint64 `meddler:"id"`
	Name string `meddler:"name"`
}

// Contract is a tracked contract.
type Contract struct {
	ID            uint64         `meddler:"id"`
	Address       common.Address `meddler:"address,address"`
	ABI           string         `meddler:"abi"`
	StartingBlock uint64         `meddler:"starting_block"`
}

// Pair is a (contract, event) combination whose event is declared in the contract ABI.
type Pair struct {
	Contract *Contract
	Def      *decoder.EventDef
}

// Snapshot is the registry content loaded at the start of a sync cycle.
type Snapshot struct {
	Contracts []*Contract
	Events    []*Event
	Pairs     []Pair
}

// Addresses returns the distinct addresses of the snapshot's contracts.
func (s *Snapshot) Addresses() []common.Address {
	addresses := make([]common.Address, 0, len(s.Contracts))
	for _, c := range s.Contracts {
		if !slices.Contains(addresses, c.Address) {
			addresses = append(addresses, c.Address)
		}
	}
	return addresses
}

// Registry manages the tracked contracts and events.
type Registry struct {
	db  *db.DB
	log *logger.Logger
}

// New creates a new Registry.
func New(database *db.DB, log *logger.Logger) *Registry {
	return &Registry{db: database, log: log}
}

// Seed upserts the configured events and contracts.
// Rows not present in the configuration are left untouched.
func (r *Registry) Seed(ctx context.Context, cfg config.RegistryConfig) error {
	contracts := make([]*Contract, 0, len(cfg.Contracts))
	for _, cc := range cfg.Contracts {
		abiText, err := resolveABI(cc)
		if err != nil {
			return fmt.Errorf("contract %d: %w", cc.ID, err)
		}

		if _, err := abi.JSON(strings.NewReader(abiText)); err != nil {
			return fmt.Errorf("contract %d: invalid ABI: %w", cc.ID, err)
		}

		contracts = append(contracts, &Contract{
			ID:            cc.ID,
			Address:       common.HexToAddress(cc.Address),
			ABI:           abiText,
			StartingBlock: cc.StartingBlock,
		})
	}

	err := r.db.ExecuteInTx(ctx, func(tx *sql.Tx) error {
		for _, e := range cfg.Events {
			if err := r.UpsertEvent(ctx, tx, &Event{ID: e.ID, Name: e.Name}); err != nil {
				return err
			}
		}

		for _, c := range contracts {
			if err := r.UpsertContract(ctx, tx, c); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Infow("registry seeded", "events", len(cfg.Events), "contracts", len(contracts))

	return nil
}

// UpsertEvent inserts or renames an event.
func (r *Registry) UpsertEvent(ctx context.Context, q db.Querier, e *Event) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO events (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`),
		e.ID, e.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert event %d: %w", e.ID, err)
	}

	return nil
}

// UpsertContract inserts or replaces a contract.
func (r *Registry) UpsertContract(ctx context.Context, q db.Querier, c *Contract) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO contracts (id, address, abi, starting_block) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			address = excluded.address,
			abi = excluded.abi,
			starting_block = excluded.starting_block`),
		c.ID, strings.ToLower(c.Address.Hex()), c.ABI, c.StartingBlock)
	if err != nil {
		return fmt.Errorf("failed to upsert contract %d: %w", c.ID, err)
	}

	return nil
}

// Contracts returns all contracts ordered by ID.
func (r *Registry) Contracts(ctx context.Context) ([]*Contract, error) {
	var contracts []*Contract
	if err := r.db.Meddler().QueryAll(db.WithContext(ctx, r.db), &contracts,
		"SELECT * FROM contracts ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	return contracts, nil
}

// Events returns all events ordered by ID.
func (r *Registry) Events(ctx context.Context) ([]*Event, error) {
	var events []*Event
	if err := r.db.Meddler().QueryAll(db.WithContext(ctx, r.db), &events,
		"SELECT * FROM events ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// Load reads the registry and builds the pairs to sync.
// A contract whose ABI cannot be parsed is logged and skipped.
func (r *Registry) Load(ctx context.Context) (*Snapshot, error) {
	contracts, err := r.Contracts(ctx)
	if err != nil {
		return nil, err
	}

	events, err := r.Events(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{Contracts: contracts, Events: events}

	for _, c := range contracts {
		parsed, err := abi.JSON(strings.NewReader(c.ABI))
		if err != nil {
			r.log.Warnw("skipping contract with invalid ABI", "contract", c.ID, "error", err)
			continue
		}

		for _, e := range events {
			entry, ok := findEvent(parsed, e.Name)
			if !ok {
				continue
			}
			snapshot.Pairs = append(snapshot.Pairs, Pair{Contract: c, Def: decoder.NewEventDef(e.ID, entry)})
		}
	}

	r.log.Debugw("registry loaded", "contracts", len(contracts), "events", len(events), "pairs", len(snapshot.Pairs))

	return snapshot, nil
}

// findEvent returns the ABI event named name. Overloads are keyed by go-ethereum as
// name, name0, name1...; the unsuffixed one, which is the first declared, wins.
func findEvent(parsed abi.ABI, name string) (abi.Event, bool) {
	if ev, ok := parsed.Events[name]; ok && ev.RawName == name {
		return ev, true
	}

	return abi.Event{}, false
}

func resolveABI(cc config.ContractConfig) (string, error) {
	switch {
	case cc.ABI != "":
		return cc.ABI, nil
	case cc.ABIFile != "":
		data, err := os.ReadFile(cc.ABIFile)
		if err != nil {
			return "", fmt.Errorf("failed to read ABI file: %w", err)
		}
		return string(data), nil
	case len(cc.Events) > 0:
		return SignaturesToABI(cc.Events)
	default:
		return "", errors.New("no ABI source configured")
	}
}
