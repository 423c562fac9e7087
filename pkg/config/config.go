package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ContractSync/internal/common"
	"github.com/goran-ethernal/ContractSync/internal/logger"
)

const (
	// DriverSQLite selects the embedded SQLite engine.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server.
	DriverPostgres = "postgres"

	// DefaultPageSize is the number of blocks covered by one progress page.
	DefaultPageSize = 1000
)

// Config represents the complete configuration for ContractSync.
type Config struct {
	// Chain contains the chain data client configuration
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// DB contains the persistence engine configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Sync contains the sync cycle configuration
	Sync SyncConfig `yaml:"sync" json:"sync" toml:"sync"`

	// Registry seeds the tracked events and contracts at startup
	Registry RegistryConfig `yaml:"registry" json:"registry" toml:"registry"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ChainConfig represents the configuration of the chain data client.
type ChainConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// WSURL is an optional websocket endpoint used for log subscriptions
	WSURL string `yaml:"ws_url,omitempty" json:"ws_url,omitempty" toml:"ws_url,omitempty"`

	// Finality bounds the highest syncable block: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider final
	// Only used when Finality is set to "latest"
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.Finality == "" {
		c.Finality = "finalized"
	}
	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff internalcommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff internalcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = internalcommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = internalcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.InitialBackoff.Duration < 0 || r.MaxBackoff.Duration < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	return nil
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Driver selects the engine: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver" toml:"driver"`

	// Path is the file path to the SQLite database
	Path string `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`

	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" toml:"dsn,omitempty"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the SQLite synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the SQLite database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the SQLite page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if d.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver must be one of: %s, %s", DriverSQLite, DriverPostgres)
	}

	if !slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// SyncConfig configures the periodic sync cycle.
type SyncConfig struct {
	// Interval is the period between two sync cycle triggers
	Interval internalcommon.Duration `yaml:"interval" json:"interval" toml:"interval"`

	// PageSize is the number of blocks per progress page
	PageSize uint64 `yaml:"page_size" json:"page_size" toml:"page_size"`

	// Workers is the number of (contract, event) pairs synced in parallel
	// 1 keeps the cycle fully sequential
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// RunOnStartup triggers a cycle immediately instead of waiting for the first tick
	RunOnStartup bool `yaml:"run_on_startup" json:"run_on_startup" toml:"run_on_startup"`

	// Subscribe listens for new logs of tracked contracts and triggers an early cycle
	// Requires chain.ws_url
	Subscribe bool `yaml:"subscribe" json:"subscribe" toml:"subscribe"`
}

// ApplyDefaults sets default values for optional sync configuration fields.
func (s *SyncConfig) ApplyDefaults() {
	if s.Interval.Duration == 0 {
		s.Interval = internalcommon.NewDuration(time.Minute)
	}
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}
	if s.Workers == 0 {
		s.Workers = 1
	}
}

// RegistryConfig seeds the contract registry.
type RegistryConfig struct {
	// Events lists the tracked event types, shared across contracts
	Events []EventConfig `yaml:"events" json:"events" toml:"events"`

	// Contracts lists the tracked contracts
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`
}

// EventConfig describes one tracked event type.
type EventConfig struct {
	// ID is the stable event identifier used in storage
	ID uint64 `yaml:"id" json:"id" toml:"id"`

	// Name is the event name as it appears in contract ABIs (e.g. "Transfer")
	Name string `yaml:"name" json:"name" toml:"name"`
}

// ContractConfig describes one tracked contract.
type ContractConfig struct {
	// ID is the stable contract identifier used in storage
	ID uint64 `yaml:"id" json:"id" toml:"id"`

	// Address is the contract address
	Address string `yaml:"address" json:"address" toml:"address"`

	// StartingBlock is the first block to sync
	StartingBlock uint64 `yaml:"starting_block" json:"starting_block" toml:"starting_block"`

	// ABIFile is the path to a JSON ABI file
	ABIFile string `yaml:"abi_file,omitempty" json:"abi_file,omitempty" toml:"abi_file,omitempty"`

	// ABI is an inline JSON ABI
	ABI string `yaml:"abi,omitempty" json:"abi,omitempty" toml:"abi,omitempty"`

	// Events is a list of human-readable event signatures used instead of a JSON ABI
	// Format: "Transfer(address indexed from, address indexed to, uint256 value)"
	Events []string `yaml:"events,omitempty" json:"events,omitempty" toml:"events,omitempty"`
}

// Validate checks if the registry configuration is valid.
func (r *RegistryConfig) Validate() error {
	eventIDs := make(map[uint64]bool)
	for i, e := range r.Events {
		if e.ID == 0 {
			return fmt.Errorf("registry.events[%d]: id is required", i)
		}
		if e.Name == "" {
			return fmt.Errorf("registry.events[%d]: name is required", i)
		}
		if eventIDs[e.ID] {
			return fmt.Errorf("registry.events[%d]: duplicate id %d", i, e.ID)
		}
		eventIDs[e.ID] = true
	}

	contractIDs := make(map[uint64]bool)
	for i, c := range r.Contracts {
		if c.ID == 0 {
			return fmt.Errorf("registry.contracts[%d]: id is required", i)
		}
		if contractIDs[c.ID] {
			return fmt.Errorf("registry.contracts[%d]: duplicate id %d", i, c.ID)
		}
		contractIDs[c.ID] = true

		if !common.IsHexAddress(c.Address) {
			return fmt.Errorf("registry.contracts[%d]: invalid address '%s'", i, c.Address)
		}

		sources := 0
		for _, set := range []bool{c.ABIFile != "", c.ABI != "", len(c.Events) > 0} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return fmt.Errorf("registry.contracts[%d]: exactly one of abi_file, abi or events must be set", i)
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - syncer: sync cycle orchestration
	//   - scheduler: periodic trigger
	//   - chain-client: chain data fetching
	//   - decoder: receipt and log decoding
	//   - schema: per-contract table management
	//   - row-writer: row and progress persistence
	//   - progress: progress ledger
	//   - registry: contract registry
	//   - db: migrations and connections
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := internalcommon.AllComponents[internalcommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return internalcommon.ToLowerWithTrim(level)
	}
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Chain.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Sync.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}

	if !slices.Contains([]string{"finalized", "safe", "latest"}, c.Chain.Finality) {
		return fmt.Errorf("chain.finality must be one of: 'finalized', 'safe', or 'latest'")
	}

	if c.Chain.Retry != nil {
		if err := c.Chain.Retry.Validate(); err != nil {
			return fmt.Errorf("chain.retry: %w", err)
		}
	}

	if c.Sync.Subscribe && c.Chain.WSURL == "" {
		return fmt.Errorf("chain.ws_url is required when sync.subscribe is enabled")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if err := c.Registry.Validate(); err != nil {
		return err
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
