package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidIdentifier reports whether name is safe to splice into SQL as a table or column name.
func ValidIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// Column is a column definition for EnsureTable.
type Column struct {
	Name    string
	Type    string
	NotNull bool
}

// EnsureTable creates table if it does not exist.
// pk becomes an auto-incrementing integer primary key placed before columns.
func (d *DB) EnsureTable(ctx context.Context, q Querier, table, pk string, columns []Column) error {
	if !ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if !ValidIdentifier(pk) {
		return fmt.Errorf("invalid primary key column %q", pk)
	}

	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, pk+" "+d.EngineQuery(map[Engine]string{
		EngineSQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		EnginePostgres: "BIGSERIAL PRIMARY KEY",
	}))

	for _, c := range columns {
		if !ValidIdentifier(c.Name) {
			return fmt.Errorf("invalid column name %q in table %s", c.Name, table)
		}
		def := c.Name + " " + c.Type
		if c.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
	if _, err := q.ExecContext(ctx, query); err != nil {
		tableCreateErrorInc()
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return nil
}

// InsertRow inserts one row with parameterized values.
func (d *DB) InsertRow(ctx context.Context, q Querier, table string, columns []string, values []any) error {
	if !ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) != len(values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", table, len(columns), len(values))
	}
	for _, c := range columns {
		if !ValidIdentifier(c) {
			return fmt.Errorf("invalid column name %q in table %s", c, table)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders))

	if _, err := q.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	rowsInsertedInc()

	return nil
}
