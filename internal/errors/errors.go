// Package errors defines the categorized ServiceError type used across the
// wallet memory layer so callers can branch on disposition instead of
// string-matching error messages.
package errors

import (
	"errors"
	"fmt"
)

// Code enumerates the dispositions a caller needs to distinguish.
type Code string

const (
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeNotRegistered     Code = "NOT_REGISTERED"
	CodeAlreadyRegistered Code = "ALREADY_REGISTERED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeTimeout           Code = "TIMEOUT"
	CodeDecryptionFailed  Code = "DECRYPTION_FAILED"
	CodeEncryptionFailed  Code = "ENCRYPTION_FAILED"
	CodeQueueOverflow     Code = "QUEUE_OVERFLOW"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL"
	CodeNotConnected      Code = "NOT_CONNECTED"
	CodeAlreadyConnecting Code = "ALREADY_CONNECTING"
)

// ServiceError is a categorized, wrappable error carrying machine-readable
// context for callers and structured fields for logging.
type ServiceError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair to the error, returning itself for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New constructs a ServiceError without a wrapped cause.
func New(code Code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap constructs a ServiceError wrapping an underlying cause.
func Wrap(code Code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// Factory helpers mirroring the dispositions named in the error handling design.

func NotRegistered(address string) *ServiceError {
	return New(CodeNotRegistered, "wallet is not registered").WithDetails("address", address)
}

func AlreadyRegistered(address string) *ServiceError {
	return New(CodeAlreadyRegistered, "wallet is already registered").WithDetails("address", address)
}

func ValidationFailed(reason string) *ServiceError {
	return New(CodeValidation, reason)
}

func NotFound(kind, id string) *ServiceError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", kind)).WithDetails("id", id)
}

func Unavailable(component string, err error) *ServiceError {
	return Wrap(CodeUnavailable, fmt.Sprintf("%s unavailable", component), err)
}

func Timeout(operation string, err error) *ServiceError {
	return Wrap(CodeTimeout, fmt.Sprintf("%s timed out", operation), err)
}

func DecryptionFailed(err error) *ServiceError {
	return Wrap(CodeDecryptionFailed, "failed to decrypt record", err)
}

func EncryptionFailed(err error) *ServiceError {
	return Wrap(CodeEncryptionFailed, "failed to encrypt record", err)
}

func QueueOverflow(capacity int) *ServiceError {
	return New(CodeQueueOverflow, "write queue is full").WithDetails("capacity", capacity)
}

func RateLimited(subject string) *ServiceError {
	return New(CodeRateLimited, "rate limit exceeded").WithDetails("subject", subject)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, err)
}

func NotConnected(component string) *ServiceError {
	return New(CodeNotConnected, fmt.Sprintf("%s is not connected", component))
}

func AlreadyConnecting(component string) *ServiceError {
	return New(CodeAlreadyConnecting, fmt.Sprintf("%s is already connecting", component))
}

// Is reports whether err is a ServiceError carrying the given code.
func Is(err error, code Code) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// As extracts a *ServiceError from err, mirroring errors.As.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
