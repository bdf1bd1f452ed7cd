package connpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seasbee/go-logx"
)

// defaultIdleCleanupInterval is how often expired idle connections are
// swept when no override is configured
const defaultIdleCleanupInterval = 30 * time.Second

// releaseProbeTimeout bounds the health probe performed on release so
// returning a connection can never block on a hung backend
const releaseProbeTimeout = 1 * time.Second

// poolEntry tracks one live connection and whether a borrower holds it
type poolEntry struct {
	pc     *PooledConnection
	active bool
}

// Pool manages a bounded set of backend connections. Borrowers acquire
// exclusive handles and return them with Release; two background loops
// validate idle connections and sweep expired ones.
//
// At all times activeConnections + idleConnections equals the tracked
// total and never exceeds MaxConnections.
type Pool struct {
	config  *PoolConfig
	backend Backend

	// Health checking
	monitor     *HealthMonitor
	strategy    ValidationStrategy
	healthCache HealthCache
	ownedCache  bool

	// Metrics and observability
	metrics    *PoolMetrics
	calculator *MetricsCalculator
	reporter   *MetricsReporter
	obs        *ObservabilityManager

	// Capacity control, one permit per borrower
	sem chan struct{}

	// Tracked connections
	mu      sync.Mutex
	idle    []*PooledConnection
	entries map[string]*poolEntry

	// Background loops
	healthDone      chan struct{}
	cleanupDone     chan struct{}
	loopWg          sync.WaitGroup
	cleanupInterval time.Duration

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Pool state
	closed int32
}

// Option configures a pool at construction time
type Option func(*Pool)

// WithValidationStrategy selects the health-check strategy for the
// pool's validator
func WithValidationStrategy(strategy ValidationStrategy) Option {
	return func(p *Pool) {
		p.strategy = strategy
	}
}

// WithHealthCache supplies the cache for validation results. A
// caller-provided cache is not closed when the pool closes.
func WithHealthCache(cache HealthCache) Option {
	return func(p *Pool) {
		p.healthCache = cache
		p.ownedCache = false
	}
}

// WithObservability attaches tracing and Prometheus metrics
func WithObservability(obs *ObservabilityManager) Option {
	return func(p *Pool) {
		p.obs = obs
	}
}

// WithIdleCleanupInterval overrides how often expired idle connections
// are swept
func WithIdleCleanupInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.cleanupInterval = d
		}
	}
}

// New creates a connection pool over the given backend and warms it up
// to MinConnections. Warm-up tolerates creation failures; the pool
// starts with however many connections could be established.
func New(backend Backend, config *PoolConfig, opts ...Option) (*Pool, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend cannot be nil", ErrInvalidConfig)
	}
	if config == nil {
		config = DefaultPoolConfig()
	}

	// Work on a copy so later caller mutations cannot skew the pool
	config = config.Clone()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:          config,
		backend:         backend,
		strategy:        StrategyBasic,
		metrics:         NewPoolMetrics(config.EnableMetrics),
		calculator:      NewMetricsCalculator(),
		reporter:        NewMetricsReporter(),
		sem:             make(chan struct{}, config.MaxConnections),
		idle:            make([]*PooledConnection, 0, config.MaxConnections),
		entries:         make(map[string]*poolEntry, config.MaxConnections),
		healthDone:      make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		cleanupInterval: defaultIdleCleanupInterval,
		ctx:             ctx,
		cancel:          cancel,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.healthCache == nil {
		cache, err := NewMemoryHealthCache(DefaultHealthCacheConfig())
		if err != nil {
			cancel()
			return nil, err
		}
		p.healthCache = cache
		p.ownedCache = true
	}

	validator := NewRetryingValidator(backend.Validator(p.strategy), config.MaxRetries)
	monitor, err := NewHealthMonitor(validator, p.healthCache, true)
	if err != nil {
		cancel()
		if p.ownedCache {
			p.healthCache.Close()
		}
		return nil, err
	}
	p.monitor = monitor

	warmed := p.warmUp()

	p.loopWg.Add(1)
	go p.healthLoop()
	p.loopWg.Add(1)
	go p.cleanupLoop()

	logx.Info("connection pool created",
		logx.String("backend", backend.Name()),
		logx.Int("min_connections", config.MinConnections),
		logx.Int("max_connections", config.MaxConnections),
		logx.Int("warmed_connections", warmed),
		logx.String("validation_strategy", p.strategy.String()))

	return p, nil
}

// isClosed checks if the pool is closed
func (p *Pool) isClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// warmUp eagerly creates MinConnections idle connections, tolerating
// individual failures
func (p *Pool) warmUp() int {
	warmed := 0
	for i := 0; i < p.config.MinConnections; i++ {
		cctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectionTimeout)
		conn, err := p.backend.Connect(cctx)
		cancel()
		if err != nil {
			logx.Warn("connection warm-up failed",
				logx.String("backend", p.backend.Name()),
				logx.Int("index", i),
				logx.ErrorField(err))
			continue
		}

		pc := NewPooledConnection(conn, p.config.MaxIdleTime, p.metrics)
		p.mu.Lock()
		p.entries[pc.ID()] = &poolEntry{pc: pc}
		p.idle = append(p.idle, pc)
		p.syncGaugesLocked()
		p.mu.Unlock()

		p.metrics.RecordCreated()
		p.obs.RecordConnectionCreated()
		warmed++
	}
	return warmed
}

// Acquire borrows a connection, waiting up to ConnectionTimeout for
// capacity. Idle connections are handed out newest first after a health
// check; broken ones are discarded and replaced. The caller must return
// the handle with Release.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	if p == nil || p.isClosed() {
		return nil, NewPoolErrorWithCode("acquire", "", "pool is closed", ErrCodeShutdown, ErrPoolClosed)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	ctx, span := p.obs.TraceOperation(ctx, "acquire", "", p.backend.Name(), 0)
	defer span.End()

	timer := time.NewTimer(p.config.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.obs.RecordAcquire("cancelled", time.Since(start))
		code := ErrCodePool
		if ctx.Err() == context.DeadlineExceeded {
			code = ErrCodeTimeout
		}
		return nil, NewPoolErrorWithCode("acquire", "", "acquire cancelled", code, ctx.Err())
	case <-p.ctx.Done():
		p.obs.RecordAcquire("closed", time.Since(start))
		return nil, NewPoolErrorWithCode("acquire", "", "pool is closed", ErrCodeShutdown, ErrPoolClosed)
	case <-timer.C:
		// The timer can win a tie against freed capacity, so take one
		// last non-blocking look before reporting exhaustion
		select {
		case p.sem <- struct{}{}:
		default:
			p.obs.RecordAcquire("timeout", time.Since(start))
			p.obs.RecordError("exhausted")
			return nil, NewPoolErrorWithCode("acquire", "",
				fmt.Sprintf("no connection available within %v", p.config.ConnectionTimeout),
				ErrCodeExhausted, ErrPoolExhausted)
		}
	}

	pc, reused, err := p.leaseConnection(ctx)
	if err != nil {
		<-p.sem
		p.obs.RecordAcquire("error", time.Since(start))
		p.obs.RecordError("creation")
		return nil, err
	}

	elapsed := time.Since(start)
	p.metrics.RecordAcquireTime(elapsed)
	if reused {
		p.metrics.RecordHit()
		p.obs.RecordAcquire("hit", elapsed)
	} else {
		p.metrics.RecordMiss()
		p.obs.RecordAcquire("miss", elapsed)
	}
	return pc, nil
}

// leaseConnection pops idle connections until a healthy one is found,
// discarding broken ones, and falls back to creating a new connection.
// Creation failures are retried with the validator's backoff policy
// before surfacing. The caller holds a semaphore permit.
func (p *Pool) leaseConnection(ctx context.Context) (*PooledConnection, bool, error) {
	for {
		pc := p.popIdle()
		if pc == nil {
			break
		}
		if p.healthyAtHandout(ctx, pc) {
			return pc, true, nil
		}
		p.discard(pc, "failed handout health check")
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		pc, err := p.createConnection(ctx, true)
		if err == nil {
			return pc, false, nil
		}
		lastErr = err

		logx.Warn("connection creation attempt failed",
			logx.String("backend", p.backend.Name()),
			logx.Int("attempt", attempt),
			logx.Int("max_retries", p.config.MaxRetries),
			logx.ErrorField(err))

		if attempt == p.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false, lastErr
		case <-p.ctx.Done():
			return nil, false, lastErr
		case <-time.After(validationBackoffBase * time.Duration(attempt)):
		}
	}
	return nil, false, lastErr
}

// popIdle removes the most recently returned idle connection and marks
// it active
func (p *Pool) popIdle() *PooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.idle)
	if n == 0 {
		return nil
	}
	pc := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]

	if entry, ok := p.entries[pc.ID()]; ok {
		entry.active = true
	}
	p.syncGaugesLocked()
	return pc
}

// healthyAtHandout is the fast health check applied before handing an
// idle connection to a borrower. Cached validation results are honored;
// otherwise a single bounded probe runs without retries.
func (p *Pool) healthyAtHandout(ctx context.Context, pc *PooledConnection) bool {
	if pc.IsClosed() || pc.IsIdleExpired() {
		return false
	}
	if cached, ok := p.healthCache.Get(pc.ID()); ok {
		return cached.Valid
	}

	hctx, cancel := context.WithTimeout(ctx, releaseProbeTimeout)
	defer cancel()
	// Probe the raw connection so the check does not reset the wrapper's
	// idle clock
	return p.monitor.IsHealthy(hctx, pc.conn)
}

// createConnection dials one new backend connection and tracks it
func (p *Pool) createConnection(ctx context.Context, active bool) (*PooledConnection, error) {
	cctx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer cancel()

	conn, err := p.backend.Connect(cctx)
	if err != nil {
		return nil, err
	}

	pc := NewPooledConnection(conn, p.config.MaxIdleTime, p.metrics)

	p.mu.Lock()
	if p.isClosed() {
		p.mu.Unlock()
		conn.Close()
		return nil, NewPoolErrorWithCode("acquire", "", "pool is closed", ErrCodeShutdown, ErrPoolClosed)
	}
	p.entries[pc.ID()] = &poolEntry{pc: pc, active: active}
	if !active {
		p.idle = append(p.idle, pc)
	}
	p.syncGaugesLocked()
	p.mu.Unlock()

	p.metrics.RecordCreated()
	p.obs.RecordConnectionCreated()
	return pc, nil
}

// discard removes a connection from tracking and closes it
func (p *Pool) discard(pc *PooledConnection, reason string) {
	p.mu.Lock()
	delete(p.entries, pc.ID())
	p.syncGaugesLocked()
	p.mu.Unlock()

	pc.Close()
	p.metrics.RecordClosed(pc.Age())
	p.obs.RecordConnectionClosed()
	p.monitor.InvalidateCached(pc.ID())

	logx.Debug("discarded pool connection",
		logx.String("conn_id", pc.ID()),
		logx.String("reason", reason))
}

// Release returns a borrowed connection to the pool. Healthy,
// unexpired connections go back to the idle set; everything else is
// closed and forgotten. Release never waits on pool capacity.
func (p *Pool) Release(pc *PooledConnection) error {
	if pc == nil {
		return ErrNilConnection
	}
	if p == nil {
		return pc.Close()
	}

	if p.isClosed() {
		// The shutdown drain already closed tracked connections;
		// closing again is a no-op
		pc.Close()
		return nil
	}

	hctx, cancel := context.WithTimeout(context.Background(), releaseProbeTimeout)
	healthy := !pc.IsClosed() && !pc.IsIdleExpired() && pc.IsHealthy(hctx)
	cancel()
	if healthy {
		pc.MarkUsed()
	}

	p.mu.Lock()
	entry, ok := p.entries[pc.ID()]
	if !ok || entry.pc != pc {
		p.mu.Unlock()
		if p.isClosed() {
			pc.Close()
			return nil
		}
		pc.Close()
		return NewPoolError("release", pc.ID(), "connection not tracked by pool", nil)
	}
	if !entry.active {
		p.mu.Unlock()
		return NewPoolError("release", pc.ID(), "connection already released", nil)
	}

	if healthy && !p.isClosed() {
		entry.active = false
		p.idle = append(p.idle, pc)
		p.syncGaugesLocked()
		p.mu.Unlock()

		p.obs.RecordRelease("returned")
		<-p.sem
		return nil
	}

	delete(p.entries, pc.ID())
	p.syncGaugesLocked()
	p.mu.Unlock()

	pc.Close()
	p.metrics.RecordClosed(pc.Age())
	p.obs.RecordConnectionClosed()
	p.obs.RecordRelease("discarded")
	p.monitor.InvalidateCached(pc.ID())
	<-p.sem
	return nil
}

// Execute acquires a connection, runs one statement, and releases the
// connection before returning. Streaming row sets outlive the release;
// callers that iterate large results should Acquire instead.
func (p *Pool) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(pc)

	result, err := pc.Execute(ctx, query, args...)
	if err == nil {
		p.obs.RecordQuery()
	}
	return result, err
}

// CheckConnectionHealth runs a full validation with retries against a
// specific connection, consulting and populating the result cache
func (p *Pool) CheckConnectionHealth(ctx context.Context, pc *PooledConnection) ValidationResult {
	if p == nil || pc == nil {
		return invalidResult(time.Now(), "connection is nil")
	}
	return p.monitor.CheckHealthCached(ctx, pc.conn, pc.ID())
}

// healthLoop periodically validates idle connections
func (p *Pool) healthLoop() {
	defer p.loopWg.Done()
	defer func() {
		if r := recover(); r != nil {
			logx.Error("health loop panicked", logx.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkIdleHealth()
		case <-p.healthDone:
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// checkIdleHealth validates every idle connection and evicts failures
func (p *Pool) checkIdleHealth() {
	if p.isClosed() {
		return
	}

	p.mu.Lock()
	idle := make([]*PooledConnection, len(p.idle))
	copy(idle, p.idle)
	p.mu.Unlock()

	for _, pc := range idle {
		hctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectionTimeout)
		result := p.monitor.CheckHealthCached(hctx, pc.conn, pc.ID())
		cancel()

		if result.Valid {
			p.obs.RecordHealthCheck("success")
			continue
		}

		p.obs.RecordHealthCheck("failure")
		p.metrics.RecordHealthCheckFailure()
		p.monitor.InvalidateCached(pc.ID())

		if p.removeIdle(pc) {
			pc.Close()
			p.metrics.RecordClosed(pc.Age())
			p.obs.RecordConnectionClosed()
			logx.Warn("evicted unhealthy idle connection",
				logx.String("conn_id", pc.ID()),
				logx.String("error", result.ErrorMessage))
		}
	}

	p.replenish()
}

// replenish tops the pool back up to MinConnections with fresh idle
// connections after evictions. A failed dial ends the round; the next
// health tick tries again.
func (p *Pool) replenish() {
	for {
		p.mu.Lock()
		need := p.config.MinConnections - len(p.entries)
		p.mu.Unlock()
		if need <= 0 || p.isClosed() {
			return
		}

		cctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectionTimeout)
		conn, err := p.backend.Connect(cctx)
		cancel()
		if err != nil {
			logx.Warn("pool replenish failed",
				logx.String("backend", p.backend.Name()),
				logx.Int("missing", need),
				logx.ErrorField(err))
			return
		}

		pc := NewPooledConnection(conn, p.config.MaxIdleTime, p.metrics)
		p.mu.Lock()
		if p.isClosed() || len(p.entries) >= p.config.MinConnections {
			// Another path refilled the pool while we dialed
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.entries[pc.ID()] = &poolEntry{pc: pc}
		p.idle = append(p.idle, pc)
		p.syncGaugesLocked()
		p.mu.Unlock()

		p.metrics.RecordCreated()
		p.obs.RecordConnectionCreated()
		logx.Debug("replenished pool connection",
			logx.String("conn_id", pc.ID()))
	}
}

// removeIdle drops a connection from the idle set if it is still idle.
// Returns false when a borrower acquired it in the meantime.
func (p *Pool) removeIdle(pc *PooledConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[pc.ID()]
	if !ok || entry.active {
		return false
	}
	for i, candidate := range p.idle {
		if candidate == pc {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			delete(p.entries, pc.ID())
			p.syncGaugesLocked()
			return true
		}
	}
	return false
}

// cleanupLoop periodically sweeps idle connections past MaxIdleTime
func (p *Pool) cleanupLoop() {
	defer p.loopWg.Done()
	defer func() {
		if r := recover(); r != nil {
			logx.Error("idle cleanup loop panicked", logx.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepExpiredIdle()
		case <-p.cleanupDone:
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// sweepExpiredIdle closes idle connections whose idle time exceeded
// MaxIdleTime, stopping before the tracked total would drop below
// MinConnections. Oldest idles are considered first.
func (p *Pool) sweepExpiredIdle() {
	if p.isClosed() {
		return
	}

	p.mu.Lock()
	budget := len(p.entries) - p.config.MinConnections
	kept := p.idle[:0]
	var expired []*PooledConnection
	for _, pc := range p.idle {
		if budget > 0 && pc.IsIdleExpired() {
			expired = append(expired, pc)
			delete(p.entries, pc.ID())
			budget--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.syncGaugesLocked()
	p.mu.Unlock()

	for _, pc := range expired {
		pc.Close()
		p.metrics.RecordClosed(pc.Age())
		p.obs.RecordConnectionClosed()
		p.monitor.InvalidateCached(pc.ID())
	}

	if len(expired) > 0 {
		logx.Debug("closed expired idle connections",
			logx.Int("count", len(expired)))
	}
}

// Close shuts the pool down: background loops stop, every tracked
// connection is closed, and subsequent operations fail fast. Close is
// idempotent.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}

	close(p.healthDone)
	close(p.cleanupDone)
	p.cancel()
	p.loopWg.Wait()

	p.mu.Lock()
	conns := make([]*PooledConnection, 0, len(p.entries))
	for _, entry := range p.entries {
		conns = append(conns, entry.pc)
	}
	p.entries = make(map[string]*poolEntry)
	p.idle = nil
	p.syncGaugesLocked()
	p.mu.Unlock()

	var firstErr error
	for _, pc := range conns {
		if err := pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.metrics.RecordClosed(pc.Age())
		p.obs.RecordConnectionClosed()
	}

	if p.ownedCache && p.healthCache != nil {
		p.healthCache.Close()
	}

	logx.Info("connection pool closed",
		logx.String("backend", p.backend.Name()),
		logx.Int("drained_connections", len(conns)))
	return firstErr
}

// syncGaugesLocked pushes current counts to the metrics sinks. The
// caller must hold p.mu.
func (p *Pool) syncGaugesLocked() {
	total := int64(len(p.entries))
	idle := int64(len(p.idle))
	p.metrics.SetGauges(total, total-idle, idle)
	p.obs.RecordPoolState(total, total-idle, idle)
}

// Len returns the number of tracked connections, active plus idle
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Active returns the number of borrowed connections
func (p *Pool) Active() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) - len(p.idle)
}

// Idle returns the number of idle connections
func (p *Pool) Idle() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Config returns a copy of the pool configuration
func (p *Pool) Config() *PoolConfig {
	if p == nil {
		return nil
	}
	return p.config.Clone()
}

// Metrics returns a snapshot of the pool counters
func (p *Pool) Metrics() MetricsSnapshot {
	if p == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	return p.metrics.Snapshot()
}

// CalculatedMetrics returns the derived ratios for the current snapshot
func (p *Pool) CalculatedMetrics() CalculatedMetrics {
	if p == nil {
		return CalculatedMetrics{}
	}
	return p.calculator.Calculate(p.Metrics())
}

// ResetMetrics zeroes the lifetime counters while preserving gauges
func (p *Pool) ResetMetrics() {
	if p == nil {
		return
	}
	p.metrics.Reset()
}

// GenerateMetricsReport renders a human-readable metrics report
func (p *Pool) GenerateMetricsReport() string {
	if p == nil {
		return ""
	}
	return p.reporter.GenerateReport(p.Metrics(), true)
}

// MonitorStatistics returns health monitor statistics
func (p *Pool) MonitorStatistics() MonitorStats {
	if p == nil {
		return MonitorStats{}
	}
	return p.monitor.Statistics()
}
