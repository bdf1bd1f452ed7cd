package connpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the narrow contract every backend connection implements.
// The pool consumes nothing else from backend-specific code.
type Conn interface {
	// Execute runs a statement or command and returns its result
	Execute(ctx context.Context, query string, args ...any) (*Result, error)

	// Close releases the underlying physical connection
	Close() error

	// IsHealthy reports whether the connection can still serve requests
	IsHealthy(ctx context.Context) bool
}

// Rows is a minimal row iterator over a query result
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Close() error
	Err() error
}

// Result holds the outcome of an Execute call
type Result struct {
	// Rows is the row set for row-returning statements, nil otherwise
	Rows Rows

	// RowsAffected is the number of rows changed by a write statement
	RowsAffected int64

	// Reply is the backend-specific reply for non-relational commands
	Reply any
}

// Backend creates connections and supplies their validator.
// Implementations exist for embedded local databases and remote
// managed services; the pool engine is agnostic to which.
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Connect creates one new physical connection
	Connect(ctx context.Context) (Conn, error)

	// Validator returns a health-check validator for the given strategy
	Validator(strategy ValidationStrategy) ConnectionValidator
}

// PooledConnection wraps one physical backend connection with the
// bookkeeping the pool needs. The handle is exclusively owned by at
// most one borrower at a time; the pool owns it while idle.
type PooledConnection struct {
	// Identity and creation time, fixed for the connection's lifetime
	id        string
	conn      Conn
	createdAt time.Time

	// Idle expiry threshold captured from the pool configuration
	maxIdleTime time.Duration

	// Usage bookkeeping, updated on every execute
	mu         sync.Mutex
	lastUsedAt time.Time
	useCount   int64

	// Lifecycle state
	closed int32

	// Metrics sink, nil when metrics are disabled
	metrics *PoolMetrics
}

// NewPooledConnection wraps a backend connection for pool tracking
func NewPooledConnection(conn Conn, maxIdleTime time.Duration, metrics *PoolMetrics) *PooledConnection {
	now := time.Now()
	return &PooledConnection{
		id:          uuid.NewString(),
		conn:        conn,
		createdAt:   now,
		maxIdleTime: maxIdleTime,
		lastUsedAt:  now,
		metrics:     metrics,
	}
}

// ID returns the connection's unique identity
func (pc *PooledConnection) ID() string {
	if pc == nil {
		return ""
	}
	return pc.id
}

// CreatedAt returns when the connection was created
func (pc *PooledConnection) CreatedAt() time.Time {
	if pc == nil {
		return time.Time{}
	}
	return pc.createdAt
}

// LastUsedAt returns when the connection last executed or was returned
func (pc *PooledConnection) LastUsedAt() time.Time {
	if pc == nil {
		return time.Time{}
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUsedAt
}

// UseCount returns how many statements the connection has executed
func (pc *PooledConnection) UseCount() int64 {
	if pc == nil {
		return 0
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.useCount
}

// Age returns how long the connection has existed
func (pc *PooledConnection) Age() time.Duration {
	if pc == nil {
		return 0
	}
	return time.Since(pc.createdAt)
}

// IsIdleExpired reports whether the connection has been unused longer
// than the configured idle threshold
func (pc *PooledConnection) IsIdleExpired() bool {
	if pc == nil {
		return false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return time.Since(pc.lastUsedAt) > pc.maxIdleTime
}

// IsClosed reports whether the connection has been closed
func (pc *PooledConnection) IsClosed() bool {
	if pc == nil {
		return true
	}
	return atomic.LoadInt32(&pc.closed) == 1
}

// MarkUsed refreshes the idle clock without executing anything.
// The pool calls this when a connection is returned to the idle set.
func (pc *PooledConnection) MarkUsed() {
	if pc == nil {
		return
	}
	pc.mu.Lock()
	pc.lastUsedAt = time.Now()
	pc.mu.Unlock()
}

// Execute runs a statement on the underlying connection and updates
// usage bookkeeping
func (pc *PooledConnection) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	if pc == nil {
		return nil, ErrNilConnection
	}
	if pc.IsClosed() {
		return nil, NewPoolErrorWithCode("execute", pc.id, "connection is closed", ErrCodeShutdown, ErrConnectionClosed)
	}

	result, err := pc.conn.Execute(ctx, query, args...)

	pc.mu.Lock()
	pc.lastUsedAt = time.Now()
	pc.useCount++
	pc.mu.Unlock()

	if err != nil {
		return nil, err
	}

	pc.metrics.RecordQuery()
	return result, nil
}

// IsHealthy reports whether the underlying connection is healthy
func (pc *PooledConnection) IsHealthy(ctx context.Context) bool {
	if pc == nil || pc.IsClosed() {
		return false
	}
	return pc.conn.IsHealthy(ctx)
}

// Close closes the underlying connection. Borrowers should prefer
// returning the connection with Pool.Release; Close is terminal.
func (pc *PooledConnection) Close() error {
	if pc == nil {
		return ErrNilConnection
	}
	if !atomic.CompareAndSwapInt32(&pc.closed, 0, 1) {
		return nil
	}
	return pc.conn.Close()
}
