package connpool

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/seasbee/go-logx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the OpenTelemetry tracer for pool operations
var tracer = otel.Tracer("github.com/hoangvu71/AgentWriter-sub000")

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Acquire path
	AcquiresTotal   *prometheus.CounterVec
	AcquireDuration prometheus.Histogram

	// Release path
	ReleasesTotal *prometheus.CounterVec

	// Connection lifecycle
	ConnectionsCreated prometheus.Counter
	ConnectionsClosed  prometheus.Counter

	// Health checking
	HealthChecksTotal *prometheus.CounterVec

	// Pool state
	PoolConnections *prometheus.GaugeVec

	// Statement execution
	QueriesTotal prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// ObservabilityManager provides tracing, metrics, and logging capabilities
type ObservabilityManager struct {
	metrics *Metrics
	config  *ObservabilityManagerConfig
}

// ObservabilityManagerConfig holds observability configuration
type ObservabilityManagerConfig struct {
	EnableMetrics  bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing  bool   `yaml:"enable_tracing" json:"enable_tracing"`
	EnableLogging  bool   `yaml:"enable_logging" json:"enable_logging"`
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// Registerer receives the Prometheus collectors; nil uses the
	// default registerer
	Registerer prometheus.Registerer `yaml:"-" json:"-"`
}

// NewObservability creates a new observability instance
func NewObservability(config *ObservabilityManagerConfig) *ObservabilityManager {
	if config == nil {
		config = &ObservabilityManagerConfig{
			EnableMetrics:  true,
			EnableTracing:  true,
			EnableLogging:  true,
			ServiceName:    "connpool",
			ServiceVersion: "1.0.0",
			Environment:    "production",
		}
	}

	obs := &ObservabilityManager{
		config: config,
	}

	if config.EnableMetrics {
		obs.metrics = obs.createMetrics()
	}

	return obs
}

// createMetrics creates all Prometheus metrics
func (o *ObservabilityManager) createMetrics() *Metrics {
	registerer := o.config.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		AcquiresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connpool_acquires_total",
				Help: "Total number of connection acquire attempts",
			},
			[]string{"status"},
		),
		AcquireDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "connpool_acquire_duration_seconds",
				Help:    "Connection acquire duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReleasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connpool_releases_total",
				Help: "Total number of connection releases",
			},
			[]string{"outcome"},
		),
		ConnectionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "connpool_connections_created_total",
				Help: "Total number of connections created",
			},
		),
		ConnectionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "connpool_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		HealthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connpool_health_checks_total",
				Help: "Total number of connection health checks",
			},
			[]string{"status"},
		),
		PoolConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connpool_connections",
				Help: "Current number of pool connections by state",
			},
			[]string{"state"},
		),
		QueriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "connpool_queries_total",
				Help: "Total number of statements executed on pooled connections",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connpool_errors_total",
				Help: "Total number of pool errors",
			},
			[]string{"type"},
		),
	}
}

// TraceOperation creates a span for pool operations
func (o *ObservabilityManager) TraceOperation(ctx context.Context, operation, connID, backend string, attempt int) (context.Context, trace.Span) {
	if o == nil || !o.config.EnableTracing {
		return ctx, trace.SpanFromContext(ctx)
	}

	attrs := []attribute.KeyValue{
		attribute.String("pool.operation", operation),
		attribute.String("pool.service.name", o.config.ServiceName),
		attribute.String("pool.service.version", o.config.ServiceVersion),
		attribute.String("pool.environment", o.config.Environment),
	}

	if connID != "" {
		attrs = append(attrs, attribute.String("pool.conn_id", connID))
	}
	if backend != "" {
		attrs = append(attrs, attribute.String("pool.backend", backend))
	}
	if attempt > 0 {
		attrs = append(attrs, attribute.Int("pool.attempt", attempt))
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("connpool.%s", operation),
		trace.WithAttributes(attrs...),
	)

	return ctx, span
}

// RecordAcquire records one acquire attempt and its latency
func (o *ObservabilityManager) RecordAcquire(status string, duration time.Duration) {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.AcquiresTotal.WithLabelValues(status).Inc()
	o.metrics.AcquireDuration.Observe(duration.Seconds())
}

// RecordRelease records one release and its outcome
func (o *ObservabilityManager) RecordRelease(outcome string) {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.ReleasesTotal.WithLabelValues(outcome).Inc()
}

// RecordConnectionCreated records one connection creation
func (o *ObservabilityManager) RecordConnectionCreated() {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.ConnectionsCreated.Inc()
}

// RecordConnectionClosed records one connection closure
func (o *ObservabilityManager) RecordConnectionClosed() {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.ConnectionsClosed.Inc()
}

// RecordHealthCheck records one health check outcome
func (o *ObservabilityManager) RecordHealthCheck(status string) {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.HealthChecksTotal.WithLabelValues(status).Inc()
}

// RecordPoolState updates the pool state gauges
func (o *ObservabilityManager) RecordPoolState(total, active, idle int64) {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.PoolConnections.WithLabelValues("total").Set(float64(total))
	o.metrics.PoolConnections.WithLabelValues("active").Set(float64(active))
	o.metrics.PoolConnections.WithLabelValues("idle").Set(float64(idle))
}

// RecordQuery records one executed statement
func (o *ObservabilityManager) RecordQuery() {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.QueriesTotal.Inc()
}

// RecordError records error metrics
func (o *ObservabilityManager) RecordError(errorType string) {
	if o == nil || !o.config.EnableMetrics || o.metrics == nil {
		return
	}
	o.metrics.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// LogOperation logs pool operations with structured fields
func (o *ObservabilityManager) LogOperation(level, operation, connID string, attempt int, duration time.Duration, err error) {
	if o == nil || !o.config.EnableLogging {
		return
	}

	fields := []logx.Field{
		logx.String("component", "connpool"),
		logx.String("operation", operation),
		logx.String("service_name", o.config.ServiceName),
		logx.String("environment", o.config.Environment),
		logx.Int("duration_ms", int(duration.Milliseconds())),
	}

	if connID != "" {
		fields = append(fields, logx.String("conn_id", connID))
	}
	if attempt > 0 {
		fields = append(fields, logx.Int("attempt", attempt))
	}
	if err != nil {
		fields = append(fields, logx.ErrorField(err))
	}

	switch level {
	case "debug":
		logx.Debug("Pool operation completed", fields...)
	case "info":
		logx.Info("Pool operation completed", fields...)
	case "warn":
		logx.Warn("Pool operation warning", fields...)
	case "error":
		logx.Error("Pool operation failed", fields...)
	default:
		logx.Info("Pool operation completed", fields...)
	}
}

// GetMetrics returns the metrics instance
func (o *ObservabilityManager) GetMetrics() *Metrics {
	if o == nil {
		return nil
	}
	return o.metrics
}

// GetConfig returns the observability configuration
func (o *ObservabilityManager) GetConfig() *ObservabilityManagerConfig {
	if o == nil {
		return nil
	}
	return o.config
}
