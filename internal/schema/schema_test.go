package schema

import (
	"context"
	"database/sql"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/decoder"
	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/internal/testutil"
	"github.com/stretchr/testify/require"
)

func transferOccurrence(value int64) decoder.Occurrence {
	return decoder.Occurrence{
		ContractID: 1,
		EventID:    10,
		EventName:  "Transfer",
		MhKey:      "/blocks/aa",
		Fields: []decoder.Field{
			{Name: "from", ABIType: "address", Indexed: true, Value: decoder.AddressValue(common.HexToAddress("0x01"))},
			{Name: "to", ABIType: "address", Indexed: true, Value: decoder.AddressValue(common.HexToAddress("0x02"))},
			{Name: "value", ABIType: "uint256", Value: decoder.IntegerValue(big.NewInt(value))},
		},
	}
}

func approvalOccurrence() decoder.Occurrence {
	return decoder.Occurrence{
		ContractID: 1,
		EventID:    11,
		EventName:  "Approval",
		Fields: []decoder.Field{
			{Name: "owner", ABIType: "address", Indexed: true, Value: decoder.AddressValue(common.HexToAddress("0x01"))},
			{Name: "spender", ABIType: "address", Indexed: true, Value: decoder.AddressValue(common.HexToAddress("0x02"))},
			{Name: "value", ABIType: "uint256", Value: decoder.IntegerValue(big.NewInt(1))},
		},
	}
}

func ensureInTx(t *testing.T, d *db.DB, a *Adapter, occ decoder.Occurrence) (*Table, error) {
	t.Helper()

	var table *Table
	err := d.ExecuteInTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		table, err = a.Ensure(context.Background(), tx, occ.ContractID, occ)
		if err != nil {
			return err
		}

		cols, vals, err := table.Row(occ)
		if err != nil {
			return err
		}
		return d.InsertRow(context.Background(), tx, table.Name, cols, vals)
	})

	return table, err
}

func TestStorageTypeOf(t *testing.T) {
	tests := map[string]StorageType{
		"address":           StorageString,
		"uint256":           StorageNumeric,
		"uint8":             StorageNumeric,
		"int24":             StorageNumeric,
		" UINT256 ":         StorageNumeric,
		"bool":              StorageBoolean,
		"bytes":             StorageBinary,
		"bytes32":           StorageBinary,
		"string":            StorageText,
		"address[]":         StorageText,
		"uint256[2]":        StorageText,
		"(uint256,address)": StorageText,
		"function":          StorageText,
	}

	for abiType, want := range tests {
		require.Equal(t, want, StorageTypeOf(abiType), abiType)
	}
}

func TestSQLType(t *testing.T) {
	require.Equal(t, "VARCHAR(66)", StorageString.SQLType(db.EnginePostgres))
	require.Equal(t, "NUMERIC", StorageNumeric.SQLType(db.EnginePostgres))
	require.Equal(t, "BOOLEAN", StorageBoolean.SQLType(db.EnginePostgres))
	require.Equal(t, "BYTEA", StorageBinary.SQLType(db.EnginePostgres))
	require.Equal(t, "TEXT", StorageText.SQLType(db.EnginePostgres))

	require.Equal(t, "VARCHAR(66)", StorageString.SQLType(db.EngineSQLite))
	require.Equal(t, "TEXT", StorageNumeric.SQLType(db.EngineSQLite))
	require.Equal(t, "BLOB", StorageBinary.SQLType(db.EngineSQLite))
}

func TestNames(t *testing.T) {
	require.Equal(t, "data_value", ColumnName(" Value "))
	require.Equal(t, "event_for_contract_id_42", TableName(42))
}

func TestEnsure_CreatesAndReusesTable(t *testing.T) {
	d := testutil.NewTestDB(t)
	a := NewAdapter(d, logger.NewNopLogger())

	table, err := ensureInTx(t, d, a, transferOccurrence(5))
	require.NoError(t, err)
	require.Equal(t, "event_for_contract_id_1", table.Name)
	require.Len(t, table.Columns, 3)
	require.Equal(t, StorageString, table.Columns[0].Type)
	require.Equal(t, StorageNumeric, table.Columns[2].Type)

	_, err = ensureInTx(t, d, a, transferOccurrence(6))
	require.NoError(t, err)

	var (
		count int
		value string
		from  string
	)
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM event_for_contract_id_1`).Scan(&count))
	require.Equal(t, 2, count)
	require.NoError(t, d.QueryRow(
		`SELECT data_value, data_from FROM event_for_contract_id_1 WHERE event_data_id = 2`).Scan(&value, &from))
	require.Equal(t, "6", value)
	require.Equal(t, "0x0000000000000000000000000000000000000001", from)

	// a fresh adapter loads the frozen shape from the registry
	fresh := NewAdapter(d, logger.NewNopLogger())
	described, err := fresh.Describe(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, table.Columns, described.Columns)

	missing, err := fresh.Describe(context.Background(), 2)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestEnsure_SchemaMismatch(t *testing.T) {
	d := testutil.NewTestDB(t)
	a := NewAdapter(d, logger.NewNopLogger())

	_, err := ensureInTx(t, d, a, transferOccurrence(1))
	require.NoError(t, err)

	// same contract, different event with different field names
	_, err = ensureInTx(t, d, a, approvalOccurrence())
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.ErrorContains(t, err, "unknown column data_owner")
	require.ErrorContains(t, err, "missing column data_from")

	// same names, different storage type
	wrongType := transferOccurrence(1)
	wrongType.Fields[2] = decoder.Field{Name: "value", ABIType: "string", Value: decoder.TextValue("1")}
	_, err = ensureInTx(t, d, a, wrongType)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	var count int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM event_for_contract_id_1`).Scan(&count))
	require.Equal(t, 1, count, "rejected occurrences must not be written")
}

func TestEnsure_OmittedFieldsAreAccepted(t *testing.T) {
	d := testutil.NewTestDB(t)
	a := NewAdapter(d, logger.NewNopLogger())

	_, err := ensureInTx(t, d, a, transferOccurrence(1))
	require.NoError(t, err)

	partial := transferOccurrence(2)
	partial.Fields = []decoder.Field{partial.Fields[0], partial.Fields[2]}
	partial.Omitted = []decoder.Omission{{Name: "to", ABIType: "address", Reason: "topic 2 missing"}}

	_, err = ensureInTx(t, d, a, partial)
	require.NoError(t, err)

	var to sql.NullString
	require.NoError(t, d.QueryRow(`SELECT data_to FROM event_for_contract_id_1 WHERE event_data_id = 2`).Scan(&to))
	require.False(t, to.Valid)
}

func TestEnsure_FirstOccurrenceWithOmittedField(t *testing.T) {
	d := testutil.NewTestDB(t)
	a := NewAdapter(d, logger.NewNopLogger())

	partial := transferOccurrence(1)
	partial.Fields = []decoder.Field{partial.Fields[0], partial.Fields[2]}
	partial.Omitted = []decoder.Omission{{Name: "to", ABIType: "address", Reason: "topic 2 missing"}}

	table, err := ensureInTx(t, d, a, partial)
	require.NoError(t, err)
	require.Len(t, table.Columns, 3)

	to, ok := table.Column("data_to")
	require.True(t, ok)
	require.Equal(t, StorageString, to.Type)
	require.Equal(t, 2, to.Position)

	// well formed occurrences fit the table created from the partial one
	_, err = ensureInTx(t, d, a, transferOccurrence(2))
	require.NoError(t, err)

	var stored sql.NullString
	require.NoError(t, d.QueryRow(`SELECT data_to FROM event_for_contract_id_1 WHERE event_data_id = 1`).Scan(&stored))
	require.False(t, stored.Valid)
	require.NoError(t, d.QueryRow(`SELECT data_to FROM event_for_contract_id_1 WHERE event_data_id = 2`).Scan(&stored))
	require.Equal(t, "0x0000000000000000000000000000000000000002", stored.String)

	// an omitted input declared with another type does not fit
	wrong := transferOccurrence(3)
	wrong.Fields = []decoder.Field{wrong.Fields[0], wrong.Fields[2]}
	wrong.Omitted = []decoder.Omission{{Name: "to", ABIType: "uint256"}}
	_, err = ensureInTx(t, d, a, wrong)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.ErrorContains(t, err, "column data_to is string but field to is uint256")
}

func TestEnsure_InvalidFieldNames(t *testing.T) {
	d := testutil.NewTestDB(t)
	a := NewAdapter(d, logger.NewNopLogger())

	occ := transferOccurrence(1)
	occ.Fields[0].Name = "from; DROP TABLE contracts"
	_, err := ensureInTx(t, d, a, occ)
	require.ErrorContains(t, err, "valid column name")
	require.NotErrorIs(t, err, ErrSchemaMismatch)

	occ = transferOccurrence(1)
	occ.Fields[1].Name = "FROM"
	_, err = ensureInTx(t, d, a, occ)
	require.ErrorContains(t, err, "map to the same column data_from")
}

func TestStorageValue(t *testing.T) {
	v, err := storageValue(StorageBinary, decoder.TextValue("0xabcd"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xab, 0xcd}, v)

	v, err = storageValue(StorageBinary, decoder.BytesValue([]byte{1}))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)

	v, err = storageValue(StorageText, decoder.TextValue("a\x00b"))
	require.NoError(t, err)
	require.Equal(t, "ab", v)

	v, err = storageValue(StorageNumeric, decoder.IntegerValue(new(big.Int).Lsh(big.NewInt(1), 255)))
	require.NoError(t, err)
	require.Equal(t, "57896044618658097711785492504343953926634992332820282019728792003956564819968", v)

	_, err = storageValue(StorageNumeric, decoder.BoolValue(true))
	require.Error(t, err)

	_, err = storageValue(StorageBoolean, decoder.TextValue("true"))
	require.Error(t, err)
}
