package connpool

import (
	"context"
	"sync"
	"time"
)

// MonitorStats holds health monitor statistics. Rate fields are
// computed at snapshot time from the counters.
type MonitorStats struct {
	TotalChecks         int64
	SuccessfulChecks    int64
	FailedChecks        int64
	CacheHits           int64
	CacheMisses         int64
	TotalValidationTime time.Duration

	// Derived at snapshot time
	SuccessRate       float64
	FailureRate       float64
	CacheHitRate      float64
	AvgValidationTime time.Duration
}

// HealthMonitor composes a validator with an optional result cache and
// exposes single, cached, batch, and async health checks. Validator
// faults become failed results; the monitor itself never panics.
type HealthMonitor struct {
	validator ConnectionValidator
	cache     HealthCache

	// Statistics, tracked when enabled
	enableStats bool
	mu          sync.Mutex
	stats       MonitorStats
}

// NewHealthMonitor creates a health monitor. The cache may be nil to
// disable cached lookups.
func NewHealthMonitor(validator ConnectionValidator, cache HealthCache, enableStats bool) (*HealthMonitor, error) {
	if validator == nil {
		return nil, NewPoolErrorWithCode("monitor", "", "validator is nil", ErrCodeConfiguration, ErrInvalidConfig)
	}
	return &HealthMonitor{
		validator:   validator,
		cache:       cache,
		enableStats: enableStats,
	}, nil
}

// Validator returns the monitor's validator
func (m *HealthMonitor) Validator() ConnectionValidator {
	if m == nil {
		return nil
	}
	return m.validator
}

// CheckHealth validates a connection and records statistics
func (m *HealthMonitor) CheckHealth(ctx context.Context, conn Conn) ValidationResult {
	if m == nil {
		return invalidResult(time.Now(), "monitor is nil")
	}
	result := safeValidate(ctx, m.validator, conn)
	m.recordCheck(result)
	return result
}

// CheckHealthCached consults the cache first; on a miss it performs a
// real check and populates the cache under the given identity
func (m *HealthMonitor) CheckHealthCached(ctx context.Context, conn Conn, id string) ValidationResult {
	if m == nil {
		return invalidResult(time.Now(), "monitor is nil")
	}

	if m.cache != nil && id != "" {
		if cached, ok := m.cache.Get(id); ok {
			m.recordCacheHit()
			return cached
		}
		m.recordCacheMiss()
	}

	result := m.CheckHealth(ctx, conn)
	if m.cache != nil && id != "" {
		m.cache.Set(id, result)
	}
	return result
}

// CheckHealthBatch validates connections sequentially, preserving order
func (m *HealthMonitor) CheckHealthBatch(ctx context.Context, conns []Conn) []ValidationResult {
	if m == nil {
		return nil
	}
	results := make([]ValidationResult, len(conns))
	for i, conn := range conns {
		results[i] = m.CheckHealth(ctx, conn)
	}
	return results
}

// CheckHealthAsync dispatches a check to a worker and returns a channel
// that yields the result
func (m *HealthMonitor) CheckHealthAsync(ctx context.Context, conn Conn) <-chan ValidationResult {
	result := make(chan ValidationResult, 1)
	go func() {
		defer close(result)
		result <- m.CheckHealth(ctx, conn)
	}()
	return result
}

// IsHealthy is the fast path check without retries or stats
func (m *HealthMonitor) IsHealthy(ctx context.Context, conn Conn) bool {
	if m == nil || conn == nil {
		return false
	}
	return m.validator.IsHealthy(ctx, conn)
}

// InvalidateCached drops any cached result for the connection
func (m *HealthMonitor) InvalidateCached(id string) {
	if m == nil || m.cache == nil || id == "" {
		return
	}
	m.cache.Delete(id)
}

// Statistics returns a snapshot of monitor statistics with derived rates
func (m *HealthMonitor) Statistics() MonitorStats {
	if m == nil {
		return MonitorStats{}
	}

	m.mu.Lock()
	stats := m.stats
	m.mu.Unlock()

	if stats.TotalChecks > 0 {
		stats.SuccessRate = float64(stats.SuccessfulChecks) / float64(stats.TotalChecks)
		stats.FailureRate = float64(stats.FailedChecks) / float64(stats.TotalChecks)
		stats.AvgValidationTime = stats.TotalValidationTime / time.Duration(stats.TotalChecks)
	}
	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(lookups)
	}
	return stats
}

// ResetStatistics zeroes the monitor counters
func (m *HealthMonitor) ResetStatistics() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats = MonitorStats{}
	m.mu.Unlock()
}

// recordCheck records one validation outcome
func (m *HealthMonitor) recordCheck(result ValidationResult) {
	if !m.enableStats {
		return
	}
	m.mu.Lock()
	m.stats.TotalChecks++
	if result.Valid {
		m.stats.SuccessfulChecks++
	} else {
		m.stats.FailedChecks++
	}
	m.stats.TotalValidationTime += result.Duration
	m.mu.Unlock()
}

// recordCacheHit records a cache hit
func (m *HealthMonitor) recordCacheHit() {
	if !m.enableStats {
		return
	}
	m.mu.Lock()
	m.stats.CacheHits++
	m.mu.Unlock()
}

// recordCacheMiss records a cache miss
func (m *HealthMonitor) recordCacheMiss() {
	if !m.enableStats {
		return
	}
	m.mu.Lock()
	m.stats.CacheMisses++
	m.mu.Unlock()
}
