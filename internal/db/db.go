package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ContractSync/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// Engine identifies the SQL engine behind a DB.
type Engine string

const (
	EngineSQLite   Engine = config.DriverSQLite
	EnginePostgres Engine = config.DriverPostgres
	// EngineAny is the fallback key for EngineQuery.
	EngineAny Engine = ""
)

// driverName maps an engine to the database/sql driver it is opened with.
func (e Engine) driverName() string {
	if e == EnginePostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Querier is the subset of *sql.DB and *sql.Tx used by the persistence helpers.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a connection pool bound to one engine.
// Queries are written with '?' placeholders and rebound for the engine.
type DB struct {
	*sql.DB
	engine Engine
}

// Open opens the database selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)

	switch Engine(cfg.Driver) {
	case EngineSQLite:
		sqlDB, err = NewSQLiteDBFromConfig(cfg)
	case EnginePostgres:
		sqlDB, err = NewPostgresDBFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return &DB{DB: sqlDB, engine: Engine(cfg.Driver)}, nil
}

// NewSQLiteDB creates a new SQLite DB with default settings.
func NewSQLiteDB(dbPath string) (*DB, error) {
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: dbPath}
	cfg.ApplyDefaults()

	return Open(cfg)
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	// _txlock=immediate takes the write lock at BEGIN so concurrent writers
	// wait on busy_timeout instead of failing on lock upgrade
	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

// NewPostgresDBFromConfig opens a PostgreSQL pool through the pgx stdlib driver.
func NewPostgresDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Engine returns the engine this DB is bound to.
func (d *DB) Engine() Engine {
	return d.engine
}

// EngineQuery picks the query written for this engine, falling back to EngineAny.
func (d *DB) EngineQuery(queryMap map[Engine]string) string {
	if q := queryMap[d.engine]; q != "" {
		return q
	}
	return queryMap[EngineAny]
}

// Rebind rewrites '?' placeholders into the engine's bind style.
func (d *DB) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(d.engine.driverName()), query)
}

// Meddler returns the meddler dialect matching the engine.
func (d *DB) Meddler() *meddler.Database {
	if d.engine == EnginePostgres {
		return meddler.PostgreSQL
	}
	return meddler.SQLite
}

// ExecuteInTx runs fn inside a transaction.
// The transaction is committed when fn returns nil and rolled back otherwise.
func (d *DB) ExecuteInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		transactionLog(err, time.Since(start))
	}()

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ctxQuerier adapts a Querier to the context-free interface used by meddler.
type ctxQuerier struct {
	ctx context.Context
	q   Querier
}

// WithContext binds ctx to q so it can be handed to meddler.
func WithContext(ctx context.Context, q Querier) meddler.DB {
	return ctxQuerier{ctx: ctx, q: q}
}

func (c ctxQuerier) Exec(query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(c.ctx, query, args...)
}

func (c ctxQuerier) Query(query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(c.ctx, query, args...)
}

func (c ctxQuerier) QueryRow(query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(c.ctx, query, args...)
}
