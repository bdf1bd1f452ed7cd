package connpool

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of pool metrics
type MetricsSnapshot struct {
	TotalConnections    int64         `json:"total_connections" msgpack:"total_connections"`
	ActiveConnections   int64         `json:"active_connections" msgpack:"active_connections"`
	IdleConnections     int64         `json:"idle_connections" msgpack:"idle_connections"`
	ConnectionsCreated  int64         `json:"connections_created" msgpack:"connections_created"`
	ConnectionsClosed   int64         `json:"connections_closed" msgpack:"connections_closed"`
	PoolHits            int64         `json:"pool_hits" msgpack:"pool_hits"`
	PoolMisses          int64         `json:"pool_misses" msgpack:"pool_misses"`
	HealthCheckFailures int64         `json:"health_check_failures" msgpack:"health_check_failures"`
	QueryCount          int64         `json:"query_count" msgpack:"query_count"`
	AvgConnectionTime   time.Duration `json:"avg_connection_time" msgpack:"avg_connection_time"`
	TotalConnectionTime time.Duration `json:"total_connection_time" msgpack:"total_connection_time"`
	LastReset           time.Time     `json:"last_reset" msgpack:"last_reset"`
	Timestamp           time.Time     `json:"timestamp" msgpack:"timestamp"`
}

// PoolMetrics tracks pool counters under a mutex. Transition methods
// are called by the pool while it performs the matching state change,
// keeping the counters reconciled with pool state. A nil or disabled
// PoolMetrics turns every method into a no-op.
type PoolMetrics struct {
	mu      sync.Mutex
	enabled bool

	// State gauges mirroring the pool's tracked sets
	totalConnections  int64
	activeConnections int64
	idleConnections   int64

	// Lifetime counters since last reset
	connectionsCreated  int64
	connectionsClosed   int64
	poolHits            int64
	poolMisses          int64
	healthCheckFailures int64
	queryCount          int64

	// Acquire latency running average
	acquireSamples    int64
	avgConnectionTime time.Duration

	// Cumulative lifetime of closed connections
	totalConnectionTime time.Duration

	lastReset time.Time
}

// NewPoolMetrics creates a metrics tracker
func NewPoolMetrics(enabled bool) *PoolMetrics {
	return &PoolMetrics{
		enabled:   enabled,
		lastReset: time.Now(),
	}
}

// Enabled reports whether metrics collection is active
func (m *PoolMetrics) Enabled() bool {
	return m != nil && m.enabled
}

// RecordHit records an acquire served from the idle set
func (m *PoolMetrics) RecordHit() {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.poolHits++
	m.mu.Unlock()
}

// RecordMiss records an acquire that required creating a connection
func (m *PoolMetrics) RecordMiss() {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.poolMisses++
	m.mu.Unlock()
}

// RecordCreated records a successful connection creation
func (m *PoolMetrics) RecordCreated() {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.connectionsCreated++
	m.mu.Unlock()
}

// RecordClosed records a connection closure and its lifetime
func (m *PoolMetrics) RecordClosed(lifetime time.Duration) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.connectionsClosed++
	m.totalConnectionTime += lifetime
	m.mu.Unlock()
}

// RecordHealthCheckFailure records one failed health check
func (m *PoolMetrics) RecordHealthCheckFailure() {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.healthCheckFailures++
	m.mu.Unlock()
}

// RecordQuery records one executed statement
func (m *PoolMetrics) RecordQuery() {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.queryCount++
	m.mu.Unlock()
}

// RecordAcquireTime folds one acquire latency into the running average
func (m *PoolMetrics) RecordAcquireTime(d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.acquireSamples++
	m.avgConnectionTime += (d - m.avgConnectionTime) / time.Duration(m.acquireSamples)
	m.mu.Unlock()
}

// SetGauges updates the state gauges to the pool's current counts
func (m *PoolMetrics) SetGauges(total, active, idle int64) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.totalConnections = total
	m.activeConnections = active
	m.idleConnections = idle
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics
func (m *PoolMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalConnections:    m.totalConnections,
		ActiveConnections:   m.activeConnections,
		IdleConnections:     m.idleConnections,
		ConnectionsCreated:  m.connectionsCreated,
		ConnectionsClosed:   m.connectionsClosed,
		PoolHits:            m.poolHits,
		PoolMisses:          m.poolMisses,
		HealthCheckFailures: m.healthCheckFailures,
		QueryCount:          m.queryCount,
		AvgConnectionTime:   m.avgConnectionTime,
		TotalConnectionTime: m.totalConnectionTime,
		LastReset:           m.lastReset,
		Timestamp:           time.Now(),
	}
}

// Reset zeroes the lifetime counters and stamps the reset time.
// State gauges and the acquire-latency average are preserved.
func (m *PoolMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.connectionsCreated = 0
	m.connectionsClosed = 0
	m.poolHits = 0
	m.poolMisses = 0
	m.healthCheckFailures = 0
	m.queryCount = 0
	m.totalConnectionTime = 0
	m.lastReset = time.Now()
	m.mu.Unlock()
}
