package connpool

import (
	"fmt"
	"sync"
	"time"
)

// Trend classifies how a metric moved between the oldest and newest
// retained snapshots
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// MetricsAggregator retains a bounded history of metrics snapshots and
// answers range, average, peak, and trend queries over it. Safe for
// concurrent use.
type MetricsAggregator struct {
	mu        sync.Mutex
	capacity  int
	snapshots []MetricsSnapshot
}

// NewMetricsAggregator creates an aggregator retaining up to capacity
// snapshots; the oldest snapshot is dropped when the ring is full
func NewMetricsAggregator(capacity int) (*MetricsAggregator, error) {
	if capacity < 1 || capacity > 100000 {
		return nil, fmt.Errorf("%w: aggregator capacity must be between 1 and 100000, got %d", ErrInvalidConfig, capacity)
	}
	return &MetricsAggregator{
		capacity:  capacity,
		snapshots: make([]MetricsSnapshot, 0, capacity),
	}, nil
}

// Add appends a snapshot, evicting the oldest when at capacity
func (a *MetricsAggregator) Add(s MetricsSnapshot) {
	if a == nil {
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	a.mu.Lock()
	if len(a.snapshots) >= a.capacity {
		copy(a.snapshots, a.snapshots[1:])
		a.snapshots = a.snapshots[:len(a.snapshots)-1]
	}
	a.snapshots = append(a.snapshots, s)
	a.mu.Unlock()
}

// Len returns the number of retained snapshots
func (a *MetricsAggregator) Len() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snapshots)
}

// Snapshots returns a copy of the retained history, oldest first
func (a *MetricsAggregator) Snapshots() []MetricsSnapshot {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]MetricsSnapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}

// Range returns the snapshots whose timestamps fall within [from, to]
func (a *MetricsAggregator) Range(from, to time.Time) []MetricsSnapshot {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []MetricsSnapshot
	for _, s := range a.snapshots {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Clear drops all retained snapshots
func (a *MetricsAggregator) Clear() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.snapshots = a.snapshots[:0]
	a.mu.Unlock()
}

// Average returns the element-wise mean across retained snapshots.
// The second return is false when the history is empty.
func (a *MetricsAggregator) Average() (MetricsSnapshot, bool) {
	if a == nil {
		return MetricsSnapshot{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	n := int64(len(a.snapshots))
	if n == 0 {
		return MetricsSnapshot{}, false
	}

	var sum MetricsSnapshot
	for _, s := range a.snapshots {
		sum.TotalConnections += s.TotalConnections
		sum.ActiveConnections += s.ActiveConnections
		sum.IdleConnections += s.IdleConnections
		sum.ConnectionsCreated += s.ConnectionsCreated
		sum.ConnectionsClosed += s.ConnectionsClosed
		sum.PoolHits += s.PoolHits
		sum.PoolMisses += s.PoolMisses
		sum.HealthCheckFailures += s.HealthCheckFailures
		sum.QueryCount += s.QueryCount
		sum.AvgConnectionTime += s.AvgConnectionTime
		sum.TotalConnectionTime += s.TotalConnectionTime
	}

	newest := a.snapshots[len(a.snapshots)-1]
	return MetricsSnapshot{
		TotalConnections:    sum.TotalConnections / n,
		ActiveConnections:   sum.ActiveConnections / n,
		IdleConnections:     sum.IdleConnections / n,
		ConnectionsCreated:  sum.ConnectionsCreated / n,
		ConnectionsClosed:   sum.ConnectionsClosed / n,
		PoolHits:            sum.PoolHits / n,
		PoolMisses:          sum.PoolMisses / n,
		HealthCheckFailures: sum.HealthCheckFailures / n,
		QueryCount:          sum.QueryCount / n,
		AvgConnectionTime:   sum.AvgConnectionTime / time.Duration(n),
		TotalConnectionTime: sum.TotalConnectionTime / time.Duration(n),
		LastReset:           newest.LastReset,
		Timestamp:           newest.Timestamp,
	}, true
}

// Peak returns the element-wise maximum across retained snapshots.
// The second return is false when the history is empty.
func (a *MetricsAggregator) Peak() (MetricsSnapshot, bool) {
	if a == nil {
		return MetricsSnapshot{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.snapshots) == 0 {
		return MetricsSnapshot{}, false
	}

	peak := a.snapshots[0]
	for _, s := range a.snapshots[1:] {
		peak.TotalConnections = maxInt64(peak.TotalConnections, s.TotalConnections)
		peak.ActiveConnections = maxInt64(peak.ActiveConnections, s.ActiveConnections)
		peak.IdleConnections = maxInt64(peak.IdleConnections, s.IdleConnections)
		peak.ConnectionsCreated = maxInt64(peak.ConnectionsCreated, s.ConnectionsCreated)
		peak.ConnectionsClosed = maxInt64(peak.ConnectionsClosed, s.ConnectionsClosed)
		peak.PoolHits = maxInt64(peak.PoolHits, s.PoolHits)
		peak.PoolMisses = maxInt64(peak.PoolMisses, s.PoolMisses)
		peak.HealthCheckFailures = maxInt64(peak.HealthCheckFailures, s.HealthCheckFailures)
		peak.QueryCount = maxInt64(peak.QueryCount, s.QueryCount)
		if s.AvgConnectionTime > peak.AvgConnectionTime {
			peak.AvgConnectionTime = s.AvgConnectionTime
		}
		if s.TotalConnectionTime > peak.TotalConnectionTime {
			peak.TotalConnectionTime = s.TotalConnectionTime
		}
		if s.Timestamp.After(peak.Timestamp) {
			peak.Timestamp = s.Timestamp
			peak.LastReset = s.LastReset
		}
	}
	return peak, true
}

// Trends classifies each numeric field's movement between the oldest
// and newest retained snapshots. With fewer than two snapshots every
// field is stable.
func (a *MetricsAggregator) Trends() map[string]Trend {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	trends := map[string]Trend{
		"total_connections":     TrendStable,
		"active_connections":    TrendStable,
		"idle_connections":      TrendStable,
		"connections_created":   TrendStable,
		"connections_closed":    TrendStable,
		"pool_hits":             TrendStable,
		"pool_misses":           TrendStable,
		"health_check_failures": TrendStable,
		"query_count":           TrendStable,
		"avg_connection_time":   TrendStable,
	}
	if len(a.snapshots) < 2 {
		return trends
	}

	oldest := a.snapshots[0]
	newest := a.snapshots[len(a.snapshots)-1]

	trends["total_connections"] = classifyTrend(oldest.TotalConnections, newest.TotalConnections)
	trends["active_connections"] = classifyTrend(oldest.ActiveConnections, newest.ActiveConnections)
	trends["idle_connections"] = classifyTrend(oldest.IdleConnections, newest.IdleConnections)
	trends["connections_created"] = classifyTrend(oldest.ConnectionsCreated, newest.ConnectionsCreated)
	trends["connections_closed"] = classifyTrend(oldest.ConnectionsClosed, newest.ConnectionsClosed)
	trends["pool_hits"] = classifyTrend(oldest.PoolHits, newest.PoolHits)
	trends["pool_misses"] = classifyTrend(oldest.PoolMisses, newest.PoolMisses)
	trends["health_check_failures"] = classifyTrend(oldest.HealthCheckFailures, newest.HealthCheckFailures)
	trends["query_count"] = classifyTrend(oldest.QueryCount, newest.QueryCount)
	trends["avg_connection_time"] = classifyTrend(int64(oldest.AvgConnectionTime), int64(newest.AvgConnectionTime))

	return trends
}

// classifyTrend compares two values
func classifyTrend(oldest, newest int64) Trend {
	switch {
	case newest > oldest:
		return TrendIncreasing
	case newest < oldest:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// maxInt64 returns the larger of two values
func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
