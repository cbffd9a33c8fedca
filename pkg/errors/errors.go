package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrDivideByZero marks a summary that would otherwise be infinite or NaN.
var ErrDivideByZero = errors.New("divide by zero")

type SessionError struct {
	Code    string
	Message string
	Cause   error
	// ChunkIndex is the 1-based chunk being transferred when the error
	// happened, or 0 when no chunk was involved.
	ChunkIndex int
}

func (e *SessionError) Error() string {
	prefix := e.Code
	if e.ChunkIndex > 0 {
		prefix = fmt.Sprintf("%s (chunk %d)", e.Code, e.ChunkIndex)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *SessionError) Unwrap() error { return e.Cause }

const (
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeTransportFailed   = "TRANSPORT_FAILED"
	ErrCodeComputationFailed = "COMPUTATION_FAILED"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
)

func ErrConnectionFailed(msg string, cause error) *SessionError {
	return &SessionError{
		Code:    ErrCodeConnectionFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrTransport(msg string, chunkIndex int, cause error) *SessionError {
	return &SessionError{
		Code:       ErrCodeTransportFailed,
		Message:    msg,
		Cause:      cause,
		ChunkIndex: chunkIndex,
	}
}

func ErrComputation(msg string) *SessionError {
	return &SessionError{
		Code:    ErrCodeComputationFailed,
		Message: msg,
		Cause:   ErrDivideByZero,
	}
}

func ErrInvalidConfig(msg string, cause error) *SessionError {
	return &SessionError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

func hasCode(err error, code string) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Code == code
}

func IsConnectionError(err error) bool  { return hasCode(err, ErrCodeConnectionFailed) }
func IsTransportError(err error) bool   { return hasCode(err, ErrCodeTransportFailed) }
func IsComputationError(err error) bool { return hasCode(err, ErrCodeComputationFailed) }
func IsConfigError(err error) bool      { return hasCode(err, ErrCodeInvalidConfig) }

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
