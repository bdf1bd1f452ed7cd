package connpool

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// degradedPlaceholder replaces values that cannot be rendered
const degradedPlaceholder = "n/a"

// MetricsReporter renders metrics snapshots for humans and for
// structured consumers. Export never fails: unrenderable values fall
// back to a placeholder and the field is flagged as degraded.
type MetricsReporter struct {
	calculator *MetricsCalculator
}

// NewMetricsReporter creates a metrics reporter
func NewMetricsReporter() *MetricsReporter {
	return &MetricsReporter{calculator: NewMetricsCalculator()}
}

// GenerateReport renders a human-readable report of the snapshot,
// optionally including derived statistics
func (r *MetricsReporter) GenerateReport(s MetricsSnapshot, includeCalculations bool) string {
	var b strings.Builder

	at := s.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	fmt.Fprintf(&b, "Connection Pool Metrics Report\n")
	fmt.Fprintf(&b, "Generated:  %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Last Reset: %s\n", s.LastReset.Format(time.RFC3339))
	fmt.Fprintf(&b, "\nConnections:\n")
	fmt.Fprintf(&b, "  Total:   %d\n", s.TotalConnections)
	fmt.Fprintf(&b, "  Active:  %d\n", s.ActiveConnections)
	fmt.Fprintf(&b, "  Idle:    %d\n", s.IdleConnections)
	fmt.Fprintf(&b, "  Created: %d\n", s.ConnectionsCreated)
	fmt.Fprintf(&b, "  Closed:  %d\n", s.ConnectionsClosed)
	fmt.Fprintf(&b, "\nActivity:\n")
	fmt.Fprintf(&b, "  Pool Hits:             %d\n", s.PoolHits)
	fmt.Fprintf(&b, "  Pool Misses:           %d\n", s.PoolMisses)
	fmt.Fprintf(&b, "  Queries:               %d\n", s.QueryCount)
	fmt.Fprintf(&b, "  Health Check Failures: %d\n", s.HealthCheckFailures)
	fmt.Fprintf(&b, "  Avg Acquire Time:      %s\n", s.AvgConnectionTime)

	if includeCalculations {
		calc := r.calculator.Calculate(s)
		fmt.Fprintf(&b, "\nDerived:\n")
		fmt.Fprintf(&b, "  Hit Ratio:         %s\n", formatRatio(calc.HitRatio))
		fmt.Fprintf(&b, "  Utilization:       %s\n", formatRatio(calc.Utilization))
		fmt.Fprintf(&b, "  Efficiency:        %s\n", formatRatio(calc.Efficiency))
		fmt.Fprintf(&b, "  Churn:             %s\n", formatRatio(calc.Churn))
		fmt.Fprintf(&b, "  Turnover Rate:     %s/h\n", formatRatio(calc.TurnoverRate))
		fmt.Fprintf(&b, "  Average Lifetime:  %s\n", calc.AverageLifetime)
		fmt.Fprintf(&b, "  Failure Rate:      %s\n", formatRatio(calc.FailureRate))
		fmt.Fprintf(&b, "  Performance Score: %s\n", formatRatio(calc.PerformanceScore))
	}

	return b.String()
}

// ExportKeyValue renders the snapshot and derived statistics as a flat
// string map. Degraded fields carry the placeholder value and are
// listed under the "degraded_fields" key.
func (r *MetricsReporter) ExportKeyValue(s MetricsSnapshot) map[string]string {
	calc := r.calculator.Calculate(s)

	var degraded []string
	put := func(out map[string]string, key string, value float64) {
		rendered, ok := formatFloatSafe(value)
		if !ok {
			degraded = append(degraded, key)
		}
		out[key] = rendered
	}

	out := map[string]string{
		"total_connections":     strconv.FormatInt(s.TotalConnections, 10),
		"active_connections":    strconv.FormatInt(s.ActiveConnections, 10),
		"idle_connections":      strconv.FormatInt(s.IdleConnections, 10),
		"connections_created":   strconv.FormatInt(s.ConnectionsCreated, 10),
		"connections_closed":    strconv.FormatInt(s.ConnectionsClosed, 10),
		"pool_hits":             strconv.FormatInt(s.PoolHits, 10),
		"pool_misses":           strconv.FormatInt(s.PoolMisses, 10),
		"health_check_failures": strconv.FormatInt(s.HealthCheckFailures, 10),
		"query_count":           strconv.FormatInt(s.QueryCount, 10),
		"avg_connection_time":   s.AvgConnectionTime.String(),
		"average_lifetime":      calc.AverageLifetime.String(),
		"last_reset":            s.LastReset.Format(time.RFC3339Nano),
	}
	put(out, "hit_ratio", calc.HitRatio)
	put(out, "utilization", calc.Utilization)
	put(out, "efficiency", calc.Efficiency)
	put(out, "churn", calc.Churn)
	put(out, "turnover_rate", calc.TurnoverRate)
	put(out, "failure_rate", calc.FailureRate)
	put(out, "performance_score", calc.PerformanceScore)

	if len(degraded) > 0 {
		sort.Strings(degraded)
		out["degraded_fields"] = strings.Join(degraded, ",")
	}
	return out
}

// ExportTabular renders the key-value export as rows with a header
func (r *MetricsReporter) ExportTabular(s MetricsSnapshot) [][]string {
	kv := r.ExportKeyValue(s)

	keys := make([]string, 0, len(kv))
	for key := range kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys)+1)
	rows = append(rows, []string{"metric", "value"})
	for _, key := range keys {
		rows = append(rows, []string{key, kv[key]})
	}
	return rows
}

// formatRatio renders a ratio for the human report
func formatRatio(v float64) string {
	rendered, _ := formatFloatSafe(v)
	return rendered
}

// formatFloatSafe renders a float, reporting false for values that have
// no numeric rendering
func formatFloatSafe(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return degradedPlaceholder, false
	}
	return strconv.FormatFloat(v, 'f', 4, 64), true
}
