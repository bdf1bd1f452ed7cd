package connpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// newObsWithRegistry builds a manager bound to a private registry so
// tests never collide on the default registerer
func newObsWithRegistry(t *testing.T) (*ObservabilityManager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	obs := NewObservability(&ObservabilityManagerConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		ServiceName:    "connpool-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		Registerer:     reg,
	})
	return obs, reg
}

// TestNewObservability_Defaults tests the default configuration fallback
func TestNewObservability_Defaults(t *testing.T) {
	obs := NewObservability(nil)

	config := obs.GetConfig()
	assert.True(t, config.EnableMetrics)
	assert.True(t, config.EnableTracing)
	assert.True(t, config.EnableLogging)
	assert.Equal(t, "connpool", config.ServiceName)
	assert.Equal(t, "1.0.0", config.ServiceVersion)
	assert.Equal(t, "production", config.Environment)
	assert.NotNil(t, obs.GetMetrics())
}

// TestObservability_RecordCounters tests Prometheus counter wiring
func TestObservability_RecordCounters(t *testing.T) {
	obs, reg := newObsWithRegistry(t)
	m := obs.GetMetrics()

	obs.RecordAcquire("hit", 10*time.Millisecond)
	obs.RecordAcquire("hit", 20*time.Millisecond)
	obs.RecordAcquire("miss", 5*time.Millisecond)
	obs.RecordRelease("returned")
	obs.RecordRelease("discarded")
	obs.RecordConnectionCreated()
	obs.RecordConnectionCreated()
	obs.RecordConnectionCreated()
	obs.RecordConnectionClosed()
	obs.RecordHealthCheck("success")
	obs.RecordHealthCheck("failure")
	obs.RecordPoolState(5, 2, 3)
	obs.RecordQuery()
	obs.RecordQuery()
	obs.RecordQuery()
	obs.RecordQuery()
	obs.RecordError("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AcquiresTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquiresTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReleasesTotal.WithLabelValues("returned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReleasesTotal.WithLabelValues("discarded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConnectionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthChecksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthChecksTotal.WithLabelValues("failure")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("total")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("active")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("idle")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AcquireDuration))

	families, err := reg.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"connpool_acquires_total",
		"connpool_acquire_duration_seconds",
		"connpool_releases_total",
		"connpool_connections_created_total",
		"connpool_connections_closed_total",
		"connpool_health_checks_total",
		"connpool_connections",
		"connpool_queries_total",
		"connpool_errors_total",
	} {
		assert.True(t, names[want], "Expected metric family %s", want)
	}
}

// TestObservability_MetricsDisabled tests that disabled metrics record
// nothing and register nothing
func TestObservability_MetricsDisabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObservability(&ObservabilityManagerConfig{
		EnableMetrics: false,
		Registerer:    reg,
	})

	assert.Nil(t, obs.GetMetrics())

	obs.RecordAcquire("hit", time.Millisecond)
	obs.RecordRelease("returned")
	obs.RecordConnectionCreated()
	obs.RecordConnectionClosed()
	obs.RecordHealthCheck("success")
	obs.RecordPoolState(1, 1, 0)
	obs.RecordQuery()
	obs.RecordError("timeout")

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Empty(t, families)
}

// TestObservability_TraceOperation tests span creation and attributes
func TestObservability_TraceOperation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		_ = tp.Shutdown(context.Background())
	})

	obs := NewObservability(&ObservabilityManagerConfig{
		EnableTracing:  true,
		ServiceName:    "connpool-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
	})

	ctx, span := obs.TraceOperation(context.Background(), "acquire", "conn-1", "redis", 2)
	assert.NotNil(t, ctx)
	span.End()

	spans := exporter.GetSpans()
	assert.Len(t, spans, 1)
	assert.Equal(t, "connpool.acquire", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("pool.operation", "acquire"))
	assert.Contains(t, spans[0].Attributes, attribute.String("pool.service.name", "connpool-test"))
	assert.Contains(t, spans[0].Attributes, attribute.String("pool.conn_id", "conn-1"))
	assert.Contains(t, spans[0].Attributes, attribute.String("pool.backend", "redis"))
	assert.Contains(t, spans[0].Attributes, attribute.Int("pool.attempt", 2))
}

// TestObservability_TraceOperationDisabled tests the tracing no-op path
func TestObservability_TraceOperationDisabled(t *testing.T) {
	obs := NewObservability(&ObservabilityManagerConfig{EnableTracing: false})

	parent := context.Background()
	ctx, span := obs.TraceOperation(parent, "acquire", "", "", 0)
	assert.Equal(t, parent, ctx)
	assert.NotNil(t, span)
	span.End()
}

// TestObservability_LogOperation tests structured operation logging
func TestObservability_LogOperation(t *testing.T) {
	obs, _ := newObsWithRegistry(t)

	levels := []string{"debug", "info", "warn", "error", "unknown"}
	for _, level := range levels {
		obs.LogOperation(level, "acquire", "conn-1", 1, 5*time.Millisecond, nil)
	}
	obs.LogOperation("error", "release", "conn-2", 0, time.Millisecond, errors.New("boom"))

	disabled := NewObservability(&ObservabilityManagerConfig{EnableLogging: false})
	disabled.LogOperation("info", "acquire", "", 0, 0, nil)
}

// TestObservability_PoolIntegration tests the pool driving Prometheus
// metrics end to end
func TestObservability_PoolIntegration(t *testing.T) {
	obs, reg := newObsWithRegistry(t)
	backend := newFakeBackend()

	pool, err := New(backend, smallPoolConfig(1, 2), WithObservability(obs))
	assert.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	m := obs.GetMetrics()

	// Warm-up created one connection and synced the gauges
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("idle")))

	_, err = pool.Execute(ctx, "SELECT 1")
	assert.NoError(t, err)

	first, err := pool.Acquire(ctx)
	assert.NoError(t, err)
	second, err := pool.Acquire(ctx)
	assert.NoError(t, err)

	// Pool is full, so the next acquire times out
	_, err = pool.Acquire(ctx)
	assert.True(t, IsPoolExhausted(err))

	assert.NoError(t, pool.Release(first))

	backend.connections()[1].setHealthy(false)
	assert.NoError(t, pool.Release(second))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AcquiresTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquiresTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcquiresTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReleasesTotal.WithLabelValues("returned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReleasesTotal.WithLabelValues("discarded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("total")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolConnections.WithLabelValues("idle")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestObservability_NilManager tests nil manager safety
func TestObservability_NilManager(t *testing.T) {
	var obs *ObservabilityManager

	obs.RecordAcquire("hit", time.Millisecond)
	obs.RecordRelease("returned")
	obs.RecordConnectionCreated()
	obs.RecordConnectionClosed()
	obs.RecordHealthCheck("success")
	obs.RecordPoolState(0, 0, 0)
	obs.RecordQuery()
	obs.RecordError("timeout")
	obs.LogOperation("info", "acquire", "", 0, 0, nil)

	ctx, span := obs.TraceOperation(context.Background(), "acquire", "", "", 0)
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)

	assert.Nil(t, obs.GetMetrics())
	assert.Nil(t, obs.GetConfig())
}
