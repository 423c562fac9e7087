package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/logger"
)

//go:embed sqlite/*.sql
var sqliteSchema embed.FS

//go:embed postgres/*.sql
var postgresSchema embed.FS

// Load returns the core schema migrations for the given engine, ordered by file name.
func Load(engine db.Engine) ([]db.Migration, error) {
	var (
		schema fs.FS
		dir    string
	)

	switch engine {
	case db.EngineSQLite:
		schema, dir = sqliteSchema, "sqlite"
	case db.EnginePostgres:
		schema, dir = postgresSchema, "postgres"
	default:
		return nil, fmt.Errorf("no migrations for engine %q", engine)
	}

	entries, err := fs.ReadDir(schema, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s migrations: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	migs := make([]db.Migration, 0, len(entries))
	for _, e := range entries {
		content, err := fs.ReadFile(schema, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		migs = append(migs, db.Migration{ID: e.Name(), SQL: string(content)})
	}

	return migs, nil
}

// RunMigrations brings the core schema of d up to date.
func RunMigrations(log *logger.Logger, d *db.DB) error {
	migs, err := Load(d.Engine())
	if err != nil {
		return err
	}

	return db.RunMigrations(log, d, migs)
}
