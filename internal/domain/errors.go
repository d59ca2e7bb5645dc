package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Settlement Errors (SETTLEMENT_*)
	ErrorCodeSettlementNotFound   ErrorCode = "SETTLEMENT_NOT_FOUND"
	ErrorCodeSettlementClosed     ErrorCode = "SETTLEMENT_CLOSED"
	ErrorCodeBatchInProgress      ErrorCode = "SETTLEMENT_BATCH_IN_PROGRESS"
	ErrorCodeSettlementNotClaimed ErrorCode = "SETTLEMENT_NOT_CLAIMED"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Bank Transfer Errors (TRANSFER_*)
	ErrorCodeTransferFailed  ErrorCode = "TRANSFER_FAILED"
	ErrorCodeTransferTimeout ErrorCode = "TRANSFER_TIMEOUT"

	// Persistence Errors
	ErrorCodePersistenceConflict ErrorCode = "PERSISTENCE_CONFLICT"
	ErrorCodeDatabaseError       ErrorCode = "INTERNAL_DATABASE_ERROR"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
// This lets callers match wrapped errors against the sentinel instances below.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	return GetErrorCode(err) == ErrorCodeSettlementNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsPersistenceError checks if an error came from the settlement store
func IsPersistenceError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeDatabaseError ||
		code == ErrorCodePersistenceConflict
}

// IsTransferError checks if an error is a bank transfer error
func IsTransferError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTransferFailed ||
		code == ErrorCodeTransferTimeout
}

// Structured error instances
var (
	ErrSettlementNotFound   = NewDomainError(ErrorCodeSettlementNotFound, "settlement entry not found")
	ErrSettlementClosed     = NewDomainError(ErrorCodeSettlementClosed, "settlement entry is no longer accepting orders")
	ErrBatchInProgress      = NewDomainError(ErrorCodeBatchInProgress, "a settlement batch is already running")
	ErrSettlementNotClaimed = NewDomainError(ErrorCodeSettlementNotClaimed, "settlement entry is not claimed for processing")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrTransferFailed  = NewDomainError(ErrorCodeTransferFailed, "bank transfer failed")
	ErrTransferTimeout = NewDomainError(ErrorCodeTransferTimeout, "bank transfer timed out")

	ErrVersionConflict = NewDomainError(ErrorCodePersistenceConflict, "settlement entry was modified concurrently")
	ErrDatabaseError   = NewDomainError(ErrorCodeDatabaseError, "database error")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrShuttingDown  = NewDomainError(ErrorCodeServiceUnavailable, "service is shutting down")
)

// NewValidationError builds a validation error naming the offending field
func NewValidationError(code ErrorCode, field, message string) *DomainError {
	return NewDomainError(code, message).WithDetail("field", field)
}

// NewPersistenceError wraps a store failure
func NewPersistenceError(op string, err error) *DomainError {
	return WrapError(ErrorCodeDatabaseError, op, err)
}
