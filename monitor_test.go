package connpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestMonitor builds a monitor over the fake validator with a small cache
func newTestMonitor(t *testing.T, withCache bool) *HealthMonitor {
	t.Helper()

	var cache HealthCache
	if withCache {
		memCache, err := NewMemoryHealthCache(shortTTLCacheConfig(100, time.Minute))
		assert.NoError(t, err)
		t.Cleanup(func() { memCache.Close() })
		cache = memCache
	}

	monitor, err := NewHealthMonitor(&fakeValidator{strategy: StrategyBasic}, cache, true)
	assert.NoError(t, err)
	return monitor
}

// TestNewHealthMonitor_NilValidator tests constructor validation
func TestNewHealthMonitor_NilValidator(t *testing.T) {
	monitor, err := NewHealthMonitor(nil, nil, true)

	assert.Error(t, err)
	assert.Nil(t, monitor)
	assert.Contains(t, err.Error(), "validator is nil")
	assert.True(t, IsInvalidConfig(err))
}

// TestHealthMonitor_CheckHealth tests single checks and their statistics
func TestHealthMonitor_CheckHealth(t *testing.T) {
	monitor := newTestMonitor(t, false)
	ctx := context.Background()

	healthy := newFakeConn()
	sick := newFakeConn()
	sick.setHealthy(false)

	assert.True(t, monitor.CheckHealth(ctx, healthy).Valid)
	result := monitor.CheckHealth(ctx, sick)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ErrorMessage, "unhealthy")

	stats := monitor.Statistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(1), stats.SuccessfulChecks)
	assert.Equal(t, int64(1), stats.FailedChecks)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 0.5, stats.FailureRate)
}

// TestHealthMonitor_CheckHealth_NilConnection tests probing a nil connection
func TestHealthMonitor_CheckHealth_NilConnection(t *testing.T) {
	monitor := newTestMonitor(t, false)

	result := monitor.CheckHealth(context.Background(), nil)
	assert.False(t, result.Valid)
	assert.Equal(t, "connection is nil", result.ErrorMessage)
}

// TestHealthMonitor_CheckHealthCached tests cache consultation and population
func TestHealthMonitor_CheckHealthCached(t *testing.T) {
	monitor := newTestMonitor(t, true)
	ctx := context.Background()
	conn := newFakeConn()

	// First lookup misses the cache and performs a real check
	first := monitor.CheckHealthCached(ctx, conn, "conn-1")
	assert.True(t, first.Valid)

	// Second lookup is served from the cache without another probe
	second := monitor.CheckHealthCached(ctx, conn, "conn-1")
	assert.True(t, second.Valid)

	stats := monitor.Statistics()
	assert.Equal(t, int64(1), stats.TotalChecks)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, 0.5, stats.CacheHitRate)
}

// TestHealthMonitor_InvalidateCached tests dropping a cached result
func TestHealthMonitor_InvalidateCached(t *testing.T) {
	monitor := newTestMonitor(t, true)
	ctx := context.Background()
	conn := newFakeConn()

	monitor.CheckHealthCached(ctx, conn, "conn-1")
	monitor.InvalidateCached("conn-1")

	// The connection went bad; the next lookup must re-probe
	conn.setHealthy(false)
	result := monitor.CheckHealthCached(ctx, conn, "conn-1")
	assert.False(t, result.Valid)

	stats := monitor.Statistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(2), stats.CacheMisses)
}

// TestHealthMonitor_CheckHealthCached_NoCache tests behavior without a cache
func TestHealthMonitor_CheckHealthCached_NoCache(t *testing.T) {
	monitor := newTestMonitor(t, false)
	ctx := context.Background()
	conn := newFakeConn()

	monitor.CheckHealthCached(ctx, conn, "conn-1")
	monitor.CheckHealthCached(ctx, conn, "conn-1")

	stats := monitor.Statistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(0), stats.CacheHits)
	assert.Equal(t, int64(0), stats.CacheMisses)
}

// TestHealthMonitor_CheckHealthCached_EmptyID tests skipping the cache without an identity
func TestHealthMonitor_CheckHealthCached_EmptyID(t *testing.T) {
	monitor := newTestMonitor(t, true)
	ctx := context.Background()
	conn := newFakeConn()

	monitor.CheckHealthCached(ctx, conn, "")
	monitor.CheckHealthCached(ctx, conn, "")

	stats := monitor.Statistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, int64(0), stats.CacheHits)
	assert.Equal(t, int64(0), stats.CacheMisses)
}

// TestHealthMonitor_CheckHealthBatch tests order-preserving batch checks
func TestHealthMonitor_CheckHealthBatch(t *testing.T) {
	monitor := newTestMonitor(t, false)

	sick := newFakeConn()
	sick.setHealthy(false)
	conns := []Conn{newFakeConn(), sick, nil}

	results := monitor.CheckHealthBatch(context.Background(), conns)

	assert.Len(t, results, 3)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
	assert.False(t, results[2].Valid)
	assert.Equal(t, "connection is nil", results[2].ErrorMessage)

	stats := monitor.Statistics()
	assert.Equal(t, int64(3), stats.TotalChecks)
}

// TestHealthMonitor_CheckHealthAsync tests the asynchronous check channel
func TestHealthMonitor_CheckHealthAsync(t *testing.T) {
	monitor := newTestMonitor(t, false)

	ch := monitor.CheckHealthAsync(context.Background(), newFakeConn())

	select {
	case result := <-ch:
		assert.True(t, result.Valid)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected async health check to deliver a result")
	}

	// The channel is closed after the single result
	_, open := <-ch
	assert.False(t, open)
}

// TestHealthMonitor_IsHealthy tests the fast path
func TestHealthMonitor_IsHealthy(t *testing.T) {
	monitor := newTestMonitor(t, false)
	ctx := context.Background()

	assert.True(t, monitor.IsHealthy(ctx, newFakeConn()))
	assert.False(t, monitor.IsHealthy(ctx, nil))

	sick := newFakeConn()
	sick.setHealthy(false)
	assert.False(t, monitor.IsHealthy(ctx, sick))

	// The fast path records no statistics
	assert.Equal(t, int64(0), monitor.Statistics().TotalChecks)
}

// TestHealthMonitor_ResetStatistics tests counter reset
func TestHealthMonitor_ResetStatistics(t *testing.T) {
	monitor := newTestMonitor(t, true)
	ctx := context.Background()

	monitor.CheckHealthCached(ctx, newFakeConn(), "conn-1")
	assert.NotEqual(t, int64(0), monitor.Statistics().TotalChecks)

	monitor.ResetStatistics()

	stats := monitor.Statistics()
	assert.Equal(t, MonitorStats{}, stats)
}

// TestHealthMonitor_StatsDisabled tests that disabled stats stay zero
func TestHealthMonitor_StatsDisabled(t *testing.T) {
	monitor, err := NewHealthMonitor(&fakeValidator{strategy: StrategyBasic}, nil, false)
	assert.NoError(t, err)

	monitor.CheckHealth(context.Background(), newFakeConn())

	assert.Equal(t, MonitorStats{}, monitor.Statistics())
}

// TestHealthMonitor_NilReceiver tests nil monitor behavior
func TestHealthMonitor_NilReceiver(t *testing.T) {
	var monitor *HealthMonitor

	assert.Nil(t, monitor.Validator())
	assert.False(t, monitor.IsHealthy(context.Background(), newFakeConn()))
	assert.False(t, monitor.CheckHealth(context.Background(), newFakeConn()).Valid)
	assert.Nil(t, monitor.CheckHealthBatch(context.Background(), []Conn{newFakeConn()}))
	assert.Equal(t, MonitorStats{}, monitor.Statistics())
	monitor.ResetStatistics()
	monitor.InvalidateCached("conn-1")
}
