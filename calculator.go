package connpool

import (
	"time"
)

// CalculatedMetrics holds statistics derived from a metrics snapshot
type CalculatedMetrics struct {
	HitRatio         float64       `json:"hit_ratio" msgpack:"hit_ratio"`
	Utilization      float64       `json:"utilization" msgpack:"utilization"`
	Efficiency       float64       `json:"efficiency" msgpack:"efficiency"`
	Churn            float64       `json:"churn" msgpack:"churn"`
	TurnoverRate     float64       `json:"turnover_rate" msgpack:"turnover_rate"`
	AverageLifetime  time.Duration `json:"average_lifetime" msgpack:"average_lifetime"`
	FailureRate      float64       `json:"failure_rate" msgpack:"failure_rate"`
	PerformanceScore float64       `json:"performance_score" msgpack:"performance_score"`
}

// MetricsCalculator derives statistics from metrics snapshots.
// Every formula is safe on zero denominators.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// HitRatio returns hits/(hits+misses), 0 when there were no attempts
func (c *MetricsCalculator) HitRatio(s MetricsSnapshot) float64 {
	attempts := s.PoolHits + s.PoolMisses
	if attempts == 0 {
		return 0
	}
	return float64(s.PoolHits) / float64(attempts)
}

// Utilization returns active/total, 0 when there are no connections
func (c *MetricsCalculator) Utilization(s MetricsSnapshot) float64 {
	if s.TotalConnections == 0 {
		return 0
	}
	return float64(s.ActiveConnections) / float64(s.TotalConnections)
}

// Churn returns closed/created, a proxy for pool instability
func (c *MetricsCalculator) Churn(s MetricsSnapshot) float64 {
	if s.ConnectionsCreated == 0 {
		return 0
	}
	return float64(s.ConnectionsClosed) / float64(s.ConnectionsCreated)
}

// Efficiency returns queries-per-created discounted by churn
func (c *MetricsCalculator) Efficiency(s MetricsSnapshot) float64 {
	if s.ConnectionsCreated == 0 {
		return 0
	}
	churn := c.Churn(s)
	if churn > 1 {
		churn = 1
	}
	return (float64(s.QueryCount) / float64(s.ConnectionsCreated)) * (1 - churn)
}

// TurnoverRate returns connections created plus closed per hour since
// the last reset
func (c *MetricsCalculator) TurnoverRate(s MetricsSnapshot) float64 {
	at := s.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	hours := at.Sub(s.LastReset).Hours()
	if hours <= 0 {
		return 0
	}
	return float64(s.ConnectionsCreated+s.ConnectionsClosed) / hours
}

// AverageLifetime returns the mean lifetime of closed connections
func (c *MetricsCalculator) AverageLifetime(s MetricsSnapshot) time.Duration {
	if s.ConnectionsClosed == 0 {
		return 0
	}
	return s.TotalConnectionTime / time.Duration(s.ConnectionsClosed)
}

// FailureRate returns health check failures per acquire attempt,
// clamped to [0,1]
func (c *MetricsCalculator) FailureRate(s MetricsSnapshot) float64 {
	attempts := s.PoolHits + s.PoolMisses
	if attempts == 0 {
		return 0
	}
	rate := float64(s.HealthCheckFailures) / float64(attempts)
	if rate > 1 {
		return 1
	}
	return rate
}

// PerformanceScore returns the weighted composite of hit ratio,
// utilization, and health, clamped to [0,1]
func (c *MetricsCalculator) PerformanceScore(s MetricsSnapshot) float64 {
	score := 0.4*c.HitRatio(s) + 0.3*c.Utilization(s) + 0.3*(1-c.FailureRate(s))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Calculate derives all statistics from one snapshot
func (c *MetricsCalculator) Calculate(s MetricsSnapshot) CalculatedMetrics {
	return CalculatedMetrics{
		HitRatio:         c.HitRatio(s),
		Utilization:      c.Utilization(s),
		Efficiency:       c.Efficiency(s),
		Churn:            c.Churn(s),
		TurnoverRate:     c.TurnoverRate(s),
		AverageLifetime:  c.AverageLifetime(s),
		FailureRate:      c.FailureRate(s),
		PerformanceScore: c.PerformanceScore(s),
	}
}
