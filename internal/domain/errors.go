package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDriverContract indicates that a record driver violates its contract,
	// e.g. a mandatory method returned an unusable value. This is a defect in
	// the driver or its configuration, never a data-quality problem, and
	// aborts the current unit of work.
	ErrDriverContract = errors.New("driver contract violation")

	// ErrUnknownFormat indicates that no driver is registered for a format.
	ErrUnknownFormat = errors.New("unknown metadata format")

	// ErrLocked indicates that the run lock is held by another invocation.
	ErrLocked = errors.New("already running")

	// ErrDedupEnabled indicates a destructive operation was refused because
	// deduplication is enabled for the source.
	ErrDedupEnabled = errors.New("deduplication enabled for source")
)

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// DriverContractError reports a fatal defect in a record driver: a mandatory
// method is missing or returned an unusable value for the record at hand.
type DriverContractError struct {
	Driver string
	Method string
	Detail string
}

// Error implements the error interface.
func (e *DriverContractError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("driver %s: %s: %s", e.Driver, e.Method, e.Detail)
	}
	return fmt.Sprintf("driver %s: %s violates the driver contract", e.Driver, e.Method)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DriverContractError) Unwrap() error {
	return ErrDriverContract
}

// NewDriverContractError creates a new DriverContractError.
func NewDriverContractError(driver, method, detail string) *DriverContractError {
	return &DriverContractError{Driver: driver, Method: method, Detail: detail}
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
