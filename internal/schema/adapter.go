package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
)

// ErrSchemaMismatch is returned when an occurrence does not fit the frozen shape of its contract's event table.
var ErrSchemaMismatch = errors.New("schema mismatch")

const registryTable = "event_table_columns"

// columnRow is one row of the event table schema registry.
type columnRow struct {
	ContractID  uint64 `meddler:"contract_id"`
	Position    int    `meddler:"position"`
	ColumnName  string `meddler:"column_name"`
	FieldName   string `meddler:"field_name"`
	StorageType string `meddler:"storage_type"`
}

// Adapter keeps one event table per contract whose columns are fixed by the first stored occurrence.
type Adapter struct {
	db  *db.DB
	log *logger.Logger

	mu     sync.RWMutex
	tables map[uint64]*Table
}

// NewAdapter creates a new schema Adapter.
func NewAdapter(database *db.DB, log *logger.Logger) *Adapter {
	return &Adapter{
		db:     database,
		log:    log,
		tables: make(map[uint64]*Table),
	}
}

// Ensure returns the event table of contractID, creating it from occ inside q when it does not exist yet.
// An existing table must have a column of the same storage type for every field of occ,
// and every column must be supplied by occ or listed in occ.Omitted; otherwise ErrSchemaMismatch is returned.
func (a *Adapter) Ensure(ctx context.Context, q db.Querier, contractID uint64, occ decoder.Occurrence) (*Table, error) {
	table, err := a.lookup(ctx, q, contractID)
	if err != nil {
		return nil, err
	}

	if table == nil {
		return a.create(ctx, q, contractID, occ)
	}

	if err := table.check(occ); err != nil {
		schemaMismatchInc()
		return nil, err
	}

	return table, nil
}

// Describe returns the registered table of contractID, or nil if none was created yet.
func (a *Adapter) Describe(ctx context.Context, contractID uint64) (*Table, error) {
	return a.lookup(ctx, a.db, contractID)
}

func (a *Adapter) lookup(ctx context.Context, q db.Querier, contractID uint64) (*Table, error) {
	a.mu.RLock()
	table, ok := a.tables[contractID]
	a.mu.RUnlock()
	if ok {
		return table, nil
	}

	var rows []*columnRow
	query := a.db.Rebind("SELECT * FROM " + registryTable + " WHERE contract_id = ? ORDER BY position")
	if err := a.db.Meddler().QueryAll(db.WithContext(ctx, q), &rows, query, contractID); err != nil {
		return nil, fmt.Errorf("failed to load schema of contract %d: %w", contractID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make([]Column, 0, len(rows))
	for _, r := range rows {
		st := StorageType(r.StorageType)
		if !st.Valid() {
			return nil, fmt.Errorf("contract %d column %s: unknown storage type %q", contractID, r.ColumnName, r.StorageType)
		}
		columns = append(columns, Column{Name: r.ColumnName, Field: r.FieldName, Type: st, Position: r.Position})
	}

	// only committed schemas are cached
	table = newTable(contractID, columns)
	a.mu.Lock()
	a.tables[contractID] = table
	a.mu.Unlock()

	return table, nil
}

// create freezes the table of contractID from occ. Omitted indexed inputs still get a column,
// typed from their declared ABI type, so later well formed occurrences fit the table.
func (a *Adapter) create(ctx context.Context, q db.Querier, contractID uint64, occ decoder.Occurrence) (*Table, error) {
	columns := make([]Column, 0, len(occ.Fields)+len(occ.Omitted))
	seen := make(map[string]string, len(occ.Fields)+len(occ.Omitted))

	add := func(field, abiType string) error {
		name := ColumnName(field)
		if !db.ValidIdentifier(name) {
			return fmt.Errorf("field %q of contract %d does not map to a valid column name", field, contractID)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("fields %q and %q of contract %d map to the same column %s", other, field, contractID, name)
		}
		seen[name] = field

		columns = append(columns, Column{Name: name, Field: field, Type: StorageTypeOf(abiType), Position: len(columns)})
		return nil
	}

	for _, f := range occ.Fields {
		if err := add(f.Name, f.ABIType); err != nil {
			return nil, err
		}
	}
	for _, om := range occ.Omitted {
		if err := add(om.Name, om.ABIType); err != nil {
			return nil, err
		}
	}

	defs := []db.Column{
		{Name: ColumnEventID, Type: "BIGINT", NotNull: true},
		{Name: ColumnContractID, Type: "BIGINT", NotNull: true},
		{Name: ColumnMhKey, Type: "TEXT", NotNull: true},
	}
	for _, c := range columns {
		defs = append(defs, db.Column{Name: c.Name, Type: c.Type.SQLType(a.db.Engine())})
	}

	table := newTable(contractID, columns)
	if err := a.db.EnsureTable(ctx, q, table.Name, ColumnEventDataID, defs); err != nil {
		return nil, err
	}

	for _, c := range columns {
		row := &columnRow{
			ContractID:  contractID,
			Position:    c.Position,
			ColumnName:  c.Name,
			FieldName:   c.Field,
			StorageType: string(c.Type),
		}
		if err := a.db.Meddler().Insert(db.WithContext(ctx, q), registryTable, row); err != nil {
			return nil, fmt.Errorf("failed to register column %s of %s: %w", c.Name, table.Name, err)
		}
	}

	tablesCreatedInc()
	a.log.Infow("created event table", "table", table.Name, "contract", contractID,
		"event", occ.EventName, "columns", len(columns))

	return table, nil
}

// check validates occ against the frozen columns of t.
func (t *Table) check(occ decoder.Occurrence) error {
	var problems []string
	supplied := make(map[string]bool, len(occ.Fields)+len(occ.Omitted))

	for _, f := range occ.Fields {
		name := ColumnName(f.Name)
		supplied[name] = true

		col, ok := t.Column(name)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("unknown column %s", name))
		case col.Type != StorageTypeOf(f.ABIType):
			problems = append(problems, fmt.Sprintf("column %s is %s but field %s is %s", name, col.Type, f.Name, f.ABIType))
		}
	}

	for _, om := range occ.Omitted {
		name := ColumnName(om.Name)
		supplied[name] = true

		if col, ok := t.Column(name); ok && col.Type != StorageTypeOf(om.ABIType) {
			problems = append(problems, fmt.Sprintf("column %s is %s but field %s is %s", name, col.Type, om.Name, om.ABIType))
		}
	}

	for _, c := range t.Columns {
		if !supplied[c.Name] {
			problems = append(problems, fmt.Sprintf("missing column %s", c.Name))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	slices.Sort(problems)
	return fmt.Errorf("%w: contract %d event %s into %s: %s",
		ErrSchemaMismatch, t.ContractID, occ.EventName, t.Name, strings.Join(problems, "; "))
}
