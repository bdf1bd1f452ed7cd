package connpool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// SQLiteConfig holds configuration for the embedded SQLite backend
type SQLiteConfig struct {
	// Path is the database file path, empty or ":memory:" for in-memory
	Path string `yaml:"path" json:"path"`

	// ForeignKeys enables foreign key constraint enforcement
	ForeignKeys bool `yaml:"foreign_keys" json:"foreign_keys"`

	// JournalMode selects the journal mode, WAL recommended
	JournalMode string `yaml:"journal_mode" json:"journal_mode"`

	// Synchronous selects the fsync policy
	Synchronous string `yaml:"synchronous" json:"synchronous"`

	// CacheSizeKB is the page cache budget in KiB
	CacheSizeKB int `yaml:"cache_size_kb" json:"cache_size_kb"`

	// BusyTimeout is how long a statement waits on a locked database
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`

	// MemoryTempStore keeps temporary tables and indexes in memory
	MemoryTempStore bool `yaml:"memory_temp_store" json:"memory_temp_store"`

	// MMapSize is the memory-mapped I/O window in bytes, 0 disables
	MMapSize int64 `yaml:"mmap_size" json:"mmap_size"`
}

// DefaultSQLiteConfig returns a production-ready SQLite configuration
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:            "connpool.db",
		ForeignKeys:     true,
		JournalMode:     "WAL",
		Synchronous:     "NORMAL",
		CacheSizeKB:     64000,
		BusyTimeout:     5 * time.Second,
		MemoryTempStore: true,
		MMapSize:        256 << 20,
	}
}

// InMemorySQLiteConfig returns a configuration backed by a private
// in-memory database, useful for tests and ephemeral workloads
func InMemorySQLiteConfig() *SQLiteConfig {
	cfg := DefaultSQLiteConfig()
	cfg.Path = ":memory:"
	cfg.JournalMode = "MEMORY"
	cfg.MMapSize = 0
	return cfg
}

// Validate checks the SQLite configuration for invalid values
func (c *SQLiteConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: sqlite config cannot be nil", ErrInvalidConfig)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy_timeout must be non-negative, got %v", ErrInvalidConfig, c.BusyTimeout)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("%w: cache_size_kb must be non-negative, got %d", ErrInvalidConfig, c.CacheSizeKB)
	}
	if c.MMapSize < 0 {
		return fmt.Errorf("%w: mmap_size must be non-negative, got %d", ErrInvalidConfig, c.MMapSize)
	}
	if c.JournalMode != "" {
		switch strings.ToUpper(c.JournalMode) {
		case "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
		default:
			return fmt.Errorf("%w: journal_mode must be one of DELETE, TRUNCATE, PERSIST, MEMORY, WAL, OFF, got %q", ErrInvalidConfig, c.JournalMode)
		}
	}
	if c.Synchronous != "" {
		switch strings.ToUpper(c.Synchronous) {
		case "OFF", "NORMAL", "FULL", "EXTRA":
		default:
			return fmt.Errorf("%w: synchronous must be one of OFF, NORMAL, FULL, EXTRA, got %q", ErrInvalidConfig, c.Synchronous)
		}
	}
	return nil
}

// dsn renders the configuration as a driver DSN with pragma parameters
func (c *SQLiteConfig) dsn() string {
	path := c.Path
	if path == "" {
		path = ":memory:"
	}

	params := make([]string, 0, 7)
	if c.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if c.JournalMode != "" {
		params = append(params, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		params = append(params, fmt.Sprintf("_pragma=synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	if c.CacheSizeKB > 0 {
		// Negative cache_size means a KiB budget rather than page count
		params = append(params, fmt.Sprintf("_pragma=cache_size(-%d)", c.CacheSizeKB))
	}
	if c.MemoryTempStore {
		params = append(params, "_pragma=temp_store(MEMORY)")
	}
	if c.MMapSize > 0 {
		params = append(params, fmt.Sprintf("_pragma=mmap_size(%d)", c.MMapSize))
	}

	dsn := "file:" + path
	if len(params) > 0 {
		dsn += "?" + strings.Join(params, "&")
	}
	return dsn
}

// SQLiteBackend creates pooled connections to an embedded SQLite database
type SQLiteBackend struct {
	config *SQLiteConfig
}

// NewSQLiteBackend creates a SQLite backend with the given configuration
func NewSQLiteBackend(config *SQLiteConfig) (*SQLiteBackend, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SQLiteBackend{config: config}, nil
}

// Name identifies the backend in logs and metrics
func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

// Connect opens one new physical connection.
// Each handle is a dedicated database/sql pool capped at a single
// underlying connection, so concurrency control stays with the caller.
func (b *SQLiteBackend) Connect(ctx context.Context) (Conn, error) {
	db, err := sql.Open("sqlite", b.config.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database: %v", ErrConnectionCreation, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping sqlite database: %v", ErrConnectionCreation, err)
	}

	return &sqliteConnection{db: db}, nil
}

// Validator returns a health-check validator for the given strategy
func (b *SQLiteBackend) Validator(strategy ValidationStrategy) ConnectionValidator {
	return &sqliteValidator{strategy: strategy}
}

// sqliteConnection adapts one single-connection database handle to Conn
type sqliteConnection struct {
	db     *sql.DB
	closed int32
}

// queryVerbs lists the statement verbs that return row sets
var queryVerbs = map[string]bool{
	"SELECT":  true,
	"PRAGMA":  true,
	"WITH":    true,
	"EXPLAIN": true,
	"VALUES":  true,
}

// statementVerb extracts the leading verb of a SQL statement
func statementVerb(query string) string {
	trimmed := strings.TrimSpace(query)
	if i := strings.IndexAny(trimmed, " \t\r\n(;"); i > 0 {
		trimmed = trimmed[:i]
	}
	return strings.ToUpper(trimmed)
}

// Execute runs one statement, routing row-returning verbs through the
// query path and everything else through the exec path
func (c *sqliteConnection) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, fmt.Errorf("%w: sqlite connection", ErrConnectionClosed)
	}

	if queryVerbs[statementVerb(query)] {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite query failed: %w", err)
		}
		return &Result{Rows: rows}, nil
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite exec failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &Result{RowsAffected: affected}, nil
}

// IsHealthy reports whether the underlying database answers a ping
func (c *sqliteConnection) IsHealthy(ctx context.Context) bool {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false
	}
	// A busy handle is a live handle; pinging would queue behind the
	// caller's open row set
	if c.db.Stats().InUse > 0 {
		return true
	}
	return c.db.PingContext(ctx) == nil
}

// Close releases the underlying database handle
func (c *sqliteConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.db.Close()
}

// sqliteValidator probes SQLite connections through the Conn contract,
// so it works against raw and pooled handles alike
type sqliteValidator struct {
	strategy ValidationStrategy
}

// Strategy identifies the probe this validator performs
func (v *sqliteValidator) Strategy() ValidationStrategy {
	return v.strategy
}

// IsHealthy is the fast path with no retries
func (v *sqliteValidator) IsHealthy(ctx context.Context, conn Conn) bool {
	if conn == nil {
		return false
	}
	return conn.IsHealthy(ctx)
}

// Validate performs one probe according to the configured strategy
func (v *sqliteValidator) Validate(ctx context.Context, conn Conn) ValidationResult {
	start := time.Now()
	if conn == nil {
		return invalidResult(start, "connection is nil")
	}

	switch v.strategy {
	case StrategyBasic:
		if err := v.selectOne(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	case StrategyPing:
		if !conn.IsHealthy(ctx) {
			return invalidResult(start, "sqlite ping failed")
		}
	case StrategyQuery:
		if err := v.countSchema(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	case StrategyComprehensive:
		if !conn.IsHealthy(ctx) {
			return invalidResult(start, "sqlite ping failed")
		}
		if err := v.countSchema(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
		if err := v.integrityCheck(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	default:
		return invalidResult(start, fmt.Sprintf("unknown validation strategy %d", int(v.strategy)))
	}

	return validResult(start)
}

// selectOne verifies a full statement round trip
func (v *sqliteValidator) selectOne(ctx context.Context, conn Conn) error {
	value, err := scalarString(conn.Execute(ctx, "SELECT 1"))
	if err != nil {
		return fmt.Errorf("sqlite basic check failed: %w", err)
	}
	if value != "1" {
		return fmt.Errorf("sqlite basic check returned %q, want 1", value)
	}
	return nil
}

// countSchema verifies the schema catalog is readable
func (v *sqliteValidator) countSchema(ctx context.Context, conn Conn) error {
	if _, err := scalarString(conn.Execute(ctx, "SELECT count(*) FROM sqlite_master")); err != nil {
		return fmt.Errorf("sqlite schema check failed: %w", err)
	}
	return nil
}

// integrityCheck runs the built-in corruption scan and expects "ok"
func (v *sqliteValidator) integrityCheck(ctx context.Context, conn Conn) error {
	value, err := scalarString(conn.Execute(ctx, "PRAGMA integrity_check"))
	if err != nil {
		return fmt.Errorf("sqlite integrity check failed: %w", err)
	}
	if !strings.EqualFold(value, "ok") {
		return fmt.Errorf("sqlite integrity check reported %q", value)
	}
	return nil
}

// scalarString reads the first column of the first row as a string
func scalarString(result *Result, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if result == nil || result.Rows == nil {
		return "", fmt.Errorf("statement returned no row set")
	}
	defer result.Rows.Close()

	if !result.Rows.Next() {
		if rowsErr := result.Rows.Err(); rowsErr != nil {
			return "", rowsErr
		}
		return "", fmt.Errorf("statement returned no rows")
	}

	var value string
	if scanErr := result.Rows.Scan(&value); scanErr != nil {
		return "", scanErr
	}
	return value, nil
}
