package connpool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seasbee/go-logx"
)

// ValidationStrategy selects how a connection's health is probed
type ValidationStrategy int

const (
	// StrategyBasic issues the cheapest possible liveness probe
	StrategyBasic ValidationStrategy = iota

	// StrategyPing performs a bounded round trip against the backend
	StrategyPing

	// StrategyQuery runs a real query against backend state
	StrategyQuery

	// StrategyComprehensive combines the other probes with an integrity check
	StrategyComprehensive
)

// String returns the canonical strategy name
func (s ValidationStrategy) String() string {
	switch s {
	case StrategyBasic:
		return "BASIC_HEALTH_CHECK"
	case StrategyPing:
		return "PING_TEST"
	case StrategyQuery:
		return "QUERY_TEST"
	case StrategyComprehensive:
		return "COMPREHENSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ParseValidationStrategy converts a strategy name to its value
func ParseValidationStrategy(name string) (ValidationStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BASIC_HEALTH_CHECK", "BASIC":
		return StrategyBasic, nil
	case "PING_TEST", "PING":
		return StrategyPing, nil
	case "QUERY_TEST", "QUERY":
		return StrategyQuery, nil
	case "COMPREHENSIVE":
		return StrategyComprehensive, nil
	default:
		return StrategyBasic, fmt.Errorf("%w: unknown validation strategy %q", ErrInvalidConfig, name)
	}
}

// ValidationResult is the immutable outcome of one validation attempt
type ValidationResult struct {
	// Valid reports whether the connection passed the probe
	Valid bool

	// ErrorMessage describes the failure, empty when valid
	ErrorMessage string

	// Duration is how long the probe took
	Duration time.Duration

	// Timestamp is when the probe completed
	Timestamp time.Time
}

// validResult builds a successful validation outcome
func validResult(start time.Time) ValidationResult {
	now := time.Now()
	return ValidationResult{
		Valid:     true,
		Duration:  now.Sub(start),
		Timestamp: now,
	}
}

// invalidResult builds a failed validation outcome
func invalidResult(start time.Time, message string) ValidationResult {
	now := time.Now()
	return ValidationResult{
		Valid:        false,
		ErrorMessage: message,
		Duration:     now.Sub(start),
		Timestamp:    now,
	}
}

// ConnectionValidator probes one connection for health
type ConnectionValidator interface {
	// Validate performs a full probe and returns its result
	Validate(ctx context.Context, conn Conn) ValidationResult

	// IsHealthy is the fast path with no retries
	IsHealthy(ctx context.Context, conn Conn) bool

	// Strategy identifies the probe this validator performs
	Strategy() ValidationStrategy
}

// validationBackoffBase is the linear backoff unit between attempts
const validationBackoffBase = 100 * time.Millisecond

// retryingValidator retries an inner validator with linear backoff.
// Attempt n sleeps 100ms x n before the next attempt.
type retryingValidator struct {
	inner      ConnectionValidator
	maxRetries int
}

// NewRetryingValidator wraps a validator with a bounded retry budget
func NewRetryingValidator(inner ConnectionValidator, maxRetries int) ConnectionValidator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &retryingValidator{inner: inner, maxRetries: maxRetries}
}

// Validate probes repeatedly until success, retry exhaustion, or
// context cancellation
func (v *retryingValidator) Validate(ctx context.Context, conn Conn) ValidationResult {
	var last ValidationResult
	for attempt := 1; attempt <= v.maxRetries; attempt++ {
		last = safeValidate(ctx, v.inner, conn)
		if last.Valid {
			return last
		}

		logx.Debug("connection validation attempt failed",
			logx.String("strategy", v.inner.Strategy().String()),
			logx.Int("attempt", attempt),
			logx.Int("max_retries", v.maxRetries),
			logx.String("error", last.ErrorMessage))

		if attempt == v.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return invalidResult(time.Now(), fmt.Sprintf("validation cancelled after attempt %d: %v", attempt, ctx.Err()))
		case <-time.After(validationBackoffBase * time.Duration(attempt)):
		}
	}
	return last
}

// IsHealthy delegates to the inner fast path without retries
func (v *retryingValidator) IsHealthy(ctx context.Context, conn Conn) bool {
	return v.inner.IsHealthy(ctx, conn)
}

// Strategy returns the inner validator's strategy
func (v *retryingValidator) Strategy() ValidationStrategy {
	return v.inner.Strategy()
}

// safeValidate runs one validation attempt, converting panics from the
// underlying probe into failure results instead of propagating them
func safeValidate(ctx context.Context, v ConnectionValidator, conn Conn) (result ValidationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logx.Error("validator panic recovered",
				logx.String("strategy", v.Strategy().String()),
				logx.Any("panic", r))
			result = invalidResult(start, fmt.Sprintf("validator panic: %v", r))
		}
	}()

	if conn == nil {
		return invalidResult(start, "connection is nil")
	}
	return v.Validate(ctx, conn)
}
