package db

import (
	"fmt"
	"strings"

	"github.com/goran-ethernal/ContractSync/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator     = "-- +migrate Up"
	downMarker          = "-- +migrate Down"
	NoLimitMigrations   = 0 // indicate that there is no limit on the number of migrations to run
	migrationDirections = 2
)

// Migration is one versioned SQL script holding a Down and an Up section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies all pending Up migrations.
func RunMigrations(log *logger.Logger, d *DB, migrations []Migration) error {
	return RunMigrationsExtended(log, d, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsExtended is an extended version of RunMigrations that allows
// dir: can be migrate.Up or migrate.Down
// maxMigrations: Will apply at most `max` migrations. Pass 0 for no limit
func RunMigrationsExtended(log *logger.Logger,
	d *DB,
	migrations []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	source, err := memorySource(migrations)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(source.Migrations))
	for _, m := range source.Migrations {
		ids = append(ids, m.Id)
	}
	list := strings.Join(ids, ", ")

	dialect := "sqlite3"
	if d.Engine() == EnginePostgres {
		dialect = "postgres"
	}

	direction := "up"
	if dir == migrate.Down {
		direction = "down"
	}

	log.Debugf("running %s migrations on %s (max %d/%d): %s", direction, d.Engine(), maxMigrations, len(ids), list)

	n, err := migrate.ExecMax(d.DB, dialect, source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migrations (max %d/%d) %s: %w", maxMigrations, len(ids), list, err)
	}

	log.Infof("successfully ran %d migrations from: %s", n, list)
	return nil
}

func memorySource(migrations []Migration) (*migrate.MemoryMigrationSource, error) {
	source := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}

	for _, m := range migrations {
		parts := strings.Split(m.SQL, UpDownSeparator)
		if len(parts) < migrationDirections {
			return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, UpDownSeparator)
		}

		// parts[0] is the Down section, parts[1] the Up section
		down := parts[0]
		if idx := strings.Index(down, downMarker); idx != -1 {
			down = down[idx+len(downMarker):]
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(parts[1])},
			Down: []string{strings.TrimSpace(down)},
		})
	}

	return source, nil
}
