package connpool

import (
	"context"
	"errors"
	"fmt"
)

// Common pool errors
var (
	ErrInvalidConfig      = errors.New("connpool: invalid configuration")
	ErrPoolExhausted      = errors.New("connpool: pool exhausted")
	ErrPoolClosed         = errors.New("connpool: pool is closed")
	ErrConnectionCreation = errors.New("connpool: connection creation failed")
	ErrValidationFailed   = errors.New("connpool: connection validation failed")
	ErrNilConnection      = errors.New("connpool: nil connection")
	ErrConnectionClosed   = errors.New("connpool: connection is closed")
	ErrTimeout            = errors.New("connpool: operation timeout")
	ErrNotSupported       = errors.New("connpool: operation not supported")
)

// Error codes for categorization
const (
	ErrCodeConfiguration  = "CONFIGURATION"
	ErrCodeExhausted      = "EXHAUSTED"
	ErrCodeShutdown       = "SHUTDOWN"
	ErrCodeCreationFailed = "CREATION_FAILED"
	ErrCodeValidation     = "VALIDATION"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodePool           = "POOL_ERROR"
)

// PoolError represents a pool-specific error with additional context
type PoolError struct {
	Op      string
	ConnID  string
	Message string
	Err     error
	Code    string // Error code for better categorization
}

// Error implements the error interface
func (e *PoolError) Error() string {
	if e == nil {
		return "connpool: nil error"
	}

	baseMsg := fmt.Sprintf("connpool %s error for connection %s: %s", e.Op, e.ConnID, e.Message)

	if e.Err != nil {
		// Use %s instead of %v to avoid potential recursion with PoolError types
		return fmt.Sprintf("%s: %s", baseMsg, e.Err.Error())
	}
	return baseMsg
}

// Unwrap returns the underlying error
func (e *PoolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPoolError creates a new pool error with validation
func NewPoolError(op, connID, message string, err error) *PoolError {
	// Validate required fields
	if op == "" {
		op = "unknown"
	}
	if connID == "" {
		connID = "unknown"
	}
	if message == "" {
		message = "unknown error"
	}

	// Allow wrapping of PoolError types to maintain error chain
	// The Error() method handles recursion properly by using %s instead of %v

	return &PoolError{
		Op:      op,
		ConnID:  connID,
		Message: message,
		Err:     err,
		Code:    ErrCodePool,
	}
}

// NewPoolErrorWithCode creates a new pool error with a specific error code
func NewPoolErrorWithCode(op, connID, message, code string, err error) *PoolError {
	// Validate required fields
	if op == "" {
		op = "unknown"
	}
	if connID == "" {
		connID = "unknown"
	}
	if message == "" {
		message = "unknown error"
	}
	if code == "" {
		code = ErrCodePool
	}

	// Prevent circular references by ensuring err is not a PoolError
	if poolErr, ok := err.(*PoolError); ok {
		// Use the underlying error instead of the PoolError to prevent recursion
		err = poolErr.Err
	}

	return &PoolError{
		Op:      op,
		ConnID:  connID,
		Message: message,
		Err:     err,
		Code:    code,
	}
}

// isErrorType is a helper function that checks if an error matches a specific error type
// Simplified to use only errors.Is which handles all error wrapping cases
func isErrorType(err error, target error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, target)
}

// IsInvalidConfig checks if the error is a configuration error
func IsInvalidConfig(err error) bool {
	return isErrorType(err, ErrInvalidConfig)
}

// IsPoolExhausted checks if the error is a pool exhaustion error
func IsPoolExhausted(err error) bool {
	return isErrorType(err, ErrPoolExhausted)
}

// IsPoolClosed checks if the error is a pool closed error
func IsPoolClosed(err error) bool {
	return isErrorType(err, ErrPoolClosed)
}

// IsConnectionCreation checks if the error is a connection creation error
func IsConnectionCreation(err error) bool {
	return isErrorType(err, ErrConnectionCreation)
}

// IsValidationFailed checks if the error is a validation failure error
func IsValidationFailed(err error) bool {
	return isErrorType(err, ErrValidationFailed)
}

// IsNilConnection checks if the error is a nil connection error
func IsNilConnection(err error) bool {
	return isErrorType(err, ErrNilConnection)
}

// IsConnectionClosed checks if the error is a connection closed error
func IsConnectionClosed(err error) bool {
	return isErrorType(err, ErrConnectionClosed)
}

// IsTimeout checks if the error is a timeout error, including context deadline expiry
func IsTimeout(err error) bool {
	return isErrorType(err, ErrTimeout) || isErrorType(err, context.DeadlineExceeded)
}

// IsNotSupported checks if the error is a not supported operation error
func IsNotSupported(err error) bool {
	return isErrorType(err, ErrNotSupported)
}
