package schema

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/goran-ethernal/ContractSync/internal/db"
)

// StorageType is the storage class of an event table column, decided once when the table is created.
type StorageType string

const (
	StorageString  StorageType = "string"
	StorageNumeric StorageType = "numeric"
	StorageBoolean StorageType = "boolean"
	StorageBinary  StorageType = "binary"
	StorageText    StorageType = "text"
)

// Valid reports whether s is a known storage type.
func (s StorageType) Valid() bool {
	switch s {
	case StorageString, StorageNumeric, StorageBoolean, StorageBinary, StorageText:
		return true
	default:
		return false
	}
}

// SQLType renders the column type for the given engine.
// SQLite keeps numerics as decimal text since its NUMERIC affinity rounds values above 2^63 through REAL.
func (s StorageType) SQLType(engine db.Engine) string {
	switch s {
	case StorageString:
		return "VARCHAR(66)"
	case StorageNumeric:
		if engine == db.EnginePostgres {
			return "NUMERIC"
		}
		return "TEXT"
	case StorageBoolean:
		return "BOOLEAN"
	case StorageBinary:
		if engine == db.EnginePostgres {
			return "BYTEA"
		}
		return "BLOB"
	default:
		return "TEXT"
	}
}

// StorageTypeOf maps an ABI type onto its storage type, ignoring any width suffix.
// Arrays and tuples are stored as text.
func StorageTypeOf(abiType string) StorageType {
	t := strings.ToLower(strings.TrimSpace(abiType))
	if strings.ContainsAny(t, "[(") {
		return StorageText
	}

	base := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, t)

	switch base {
	case "address":
		return StorageString
	case "int", "uint":
		return StorageNumeric
	case "bool":
		return StorageBoolean
	case "bytes":
		return StorageBinary
	default:
		return StorageText
	}
}

// ColumnName derives the column holding the given event field.
func ColumnName(field string) string {
	return "data_" + strings.ToLower(strings.TrimSpace(field))
}

// TableName is the event table of a contract.
func TableName(contractID uint64) string {
	return fmt.Sprintf("event_for_contract_id_%d", contractID)
}
