package schema

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
)

// Fixed leading columns of every event table.
const (
	ColumnEventDataID = "event_data_id"
	ColumnEventID     = "event_id"
	ColumnContractID  = "contract_id"
	ColumnMhKey       = "mh_key"
)

// Column is one data column of an event table.
type Column struct {
	Name     string
	Field    string
	Type     StorageType
	Position int
}

// Table is the frozen shape of a contract's event table.
type Table struct {
	Name       string
	ContractID uint64
	Columns    []Column

	byName map[string]Column
}

func newTable(contractID uint64, columns []Column) *Table {
	t := &Table{
		Name:       TableName(contractID),
		ContractID: contractID,
		Columns:    columns,
		byName:     make(map[string]Column, len(columns)),
	}
	for _, c := range columns {
		t.byName[c.Name] = c
	}
	return t
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Row formats occ as column names and parameter values for an insert into t.
func (t *Table) Row(occ decoder.Occurrence) ([]string, []any, error) {
	columns := make([]string, 0, len(occ.Fields)+3) //nolint:mnd
	values := make([]any, 0, len(occ.Fields)+3)     //nolint:mnd

	columns = append(columns, ColumnEventID, ColumnContractID, ColumnMhKey)
	values = append(values, occ.EventID, occ.ContractID, occ.MhKey)

	for _, f := range occ.Fields {
		col, ok := t.Column(ColumnName(f.Name))
		if !ok {
			return nil, nil, fmt.Errorf("%w: table %s has no column for field %s", ErrSchemaMismatch, t.Name, f.Name)
		}

		v, err := storageValue(col.Type, f.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", f.Name, err)
		}

		columns = append(columns, col.Name)
		values = append(values, v)
	}

	return columns, values, nil
}

// storageValue converts a decoded value into the parameter written to a column of type st.
func storageValue(st StorageType, v decoder.Value) (any, error) {
	switch st {
	case StorageNumeric:
		if v.Kind != decoder.KindInteger || v.Int == nil {
			return nil, fmt.Errorf("cannot store %s value in a numeric column", v.Kind)
		}
		return v.Int.String(), nil
	case StorageBoolean:
		if v.Kind != decoder.KindBool {
			return nil, fmt.Errorf("cannot store %s value in a boolean column", v.Kind)
		}
		return v.Bool, nil
	case StorageBinary:
		switch v.Kind {
		case decoder.KindBytes:
			return v.Bytes, nil
		case decoder.KindText:
			b, err := hexutil.Decode(v.Str)
			if err != nil {
				return nil, fmt.Errorf("cannot store non-hex text in a binary column: %w", err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("cannot store %s value in a binary column", v.Kind)
		}
	default:
		return strings.ReplaceAll(v.String(), "\x00", ""), nil
	}
}
