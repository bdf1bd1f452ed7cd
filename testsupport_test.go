package connpool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeConn is a scriptable in-memory connection used across the pool tests.
type fakeConn struct {
	mu        sync.Mutex
	healthy   bool
	closed    bool
	execErr   error
	closeErr  error
	execCount int
}

func newFakeConn() *fakeConn {
	return &fakeConn{healthy: true}
}

func (c *fakeConn) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: fake connection", ErrConnectionClosed)
	}
	c.execCount++
	if c.execErr != nil {
		return nil, c.execErr
	}
	return &Result{Reply: query}, nil
}

func (c *fakeConn) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy && !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeConn) setHealthy(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.mu.Unlock()
}

func (c *fakeConn) setExecErr(err error) {
	c.mu.Lock()
	c.execErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execCount
}

// fakeBackend hands out fakeConns and can be scripted to fail the
// first N dials.
type fakeBackend struct {
	mu        sync.Mutex
	dialCount int
	failFirst int
	dialErr   error
	conns     []*fakeConn
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialCount++
	if b.failFirst > 0 {
		b.failFirst--
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		return nil, fmt.Errorf("%w: scripted dial failure", ErrConnectionCreation)
	}
	conn := newFakeConn()
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBackend) Validator(strategy ValidationStrategy) ConnectionValidator {
	return &fakeValidator{strategy: strategy}
}

func (b *fakeBackend) dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialCount
}

func (b *fakeBackend) connections() []*fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*fakeConn, len(b.conns))
	copy(out, b.conns)
	return out
}

// fakeValidator reports health straight off the connection.
type fakeValidator struct {
	strategy ValidationStrategy
}

func (v *fakeValidator) Validate(ctx context.Context, conn Conn) ValidationResult {
	start := time.Now()
	if conn == nil {
		return invalidResult(start, "connection is nil")
	}
	if !conn.IsHealthy(ctx) {
		return invalidResult(start, "fake connection unhealthy")
	}
	return validResult(start)
}

func (v *fakeValidator) IsHealthy(ctx context.Context, conn Conn) bool {
	return conn != nil && conn.IsHealthy(ctx)
}

func (v *fakeValidator) Strategy() ValidationStrategy { return v.strategy }

// scriptedValidator fails a fixed number of leading attempts and then
// succeeds. A non-zero panicOn makes that attempt panic instead.
type scriptedValidator struct {
	mu       sync.Mutex
	calls    int
	failures int
	panicOn  int
	strategy ValidationStrategy
}

func (v *scriptedValidator) Validate(ctx context.Context, conn Conn) ValidationResult {
	v.mu.Lock()
	v.calls++
	call := v.calls
	v.mu.Unlock()

	if v.panicOn > 0 && call == v.panicOn {
		panic("scripted validator panic")
	}
	start := time.Now()
	if call <= v.failures {
		return invalidResult(start, fmt.Sprintf("scripted failure %d", call))
	}
	return validResult(start)
}

func (v *scriptedValidator) IsHealthy(ctx context.Context, conn Conn) bool {
	return v.Validate(ctx, conn).Valid
}

func (v *scriptedValidator) Strategy() ValidationStrategy { return v.strategy }

func (v *scriptedValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}
