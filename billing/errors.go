/*
errors.go - Error taxonomy for the billing engine

ERROR CATEGORIES:
  1. Client errors - ValidationError, InsufficientStockError, NotFoundError,
     EditWindowError, permission failures. Not retried.
  2. Infrastructure errors - StorageError wrapping ErrStorage or ErrContention.
     Safe to retry with backoff; never partially applied.

USAGE:
  if errors.Is(err, billing.ErrInsufficientStock) {
      var se *billing.InsufficientStockError
      errors.As(err, &se) // se.Product, se.Shortfall
  }
*/
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when a sale would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound is returned for stale references.
	ErrNotFound = errors.New("not found")

	// ErrEditWindowExpired is returned when an invoice is edited after editableUntil.
	ErrEditWindowExpired = errors.New("edit window expired")

	// ErrPermissionDenied is returned when the actor lacks a capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDuplicate is returned on unique-key violations (customer, product).
	ErrDuplicate = errors.New("already exists")

	// ErrContention is returned when locks could not be acquired in time.
	ErrContention = errors.New("contention")

	// ErrStorage is returned for any other storage failure.
	ErrStorage = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is surfaced verbatim to the user.
type InsufficientStockError struct {
	Product   string
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %s, requested %s, short by %s",
		e.Product, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "invoice", "customer", "product"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// EditWindowError carries the deadline that was missed.
type EditWindowError struct {
	InvoiceNumber InvoiceNumber
	EditableUntil time.Time
}

func (e *EditWindowError) Error() string {
	return fmt.Sprintf("invoice %s was editable until %s",
		e.InvoiceNumber, e.EditableUntil.Format(time.RFC3339))
}

func (e *EditWindowError) Unwrap() error { return ErrEditWindowExpired }

// PermissionError names the missing capability.
type PermissionError struct {
	ActorID string
	Missing Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %q lacks %s", e.ActorID, e.Missing)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// StorageError wraps a driver failure. Kind is ErrStorage or ErrContention.
type StorageError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// NewStorageError wraps err as a non-retryable-by-default storage failure.
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Kind: ErrStorage, Err: err}
}

// NewContentionError wraps err as a retryable lock/timeout failure.
func NewContentionError(op string, err error) error {
	return &StorageError{Op: op, Kind: ErrContention, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrEditWindowExpired) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
