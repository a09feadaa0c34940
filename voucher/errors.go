/*
errors.go - Centralized error types for the voucher engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes in a single function.

ERROR CATEGORIES:
  1. Validation errors - Malformed requests, never retried
  2. Lifecycle errors - Transitions outside the transition table
  3. Lookup errors - Unknown voucher IDs or codes
  4. Conflict errors - Code space exhausted, duplicate codes
  5. Store errors - Persistence failures

BATCH SEMANTICS:
  Lifecycle and lookup errors are normally reported per item inside a
  BatchResult. Only validation and store errors fail a whole batch call.

SEE ALSO:
  - batch.go: Collects per-item errors
  - api/handlers.go: writeEngineError maps errors to HTTP
*/
package voucher

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a request is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when an operation is not allowed from
	// the voucher's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a voucher ID or code does not exist.
	ErrNotFound = errors.New("voucher not found")

	// ErrDuplicateCode is returned when a code is already owned by another voucher.
	ErrDuplicateCode = errors.New("duplicate voucher code")

	// ErrCodeSpaceExhausted is returned when the generator cannot find a free
	// code within its attempt budget.
	ErrCodeSpaceExhausted = errors.New("code space exhausted")

	// ErrExpiryLocked is returned when the expiry of an Expired or Archived
	// voucher is changed.
	ErrExpiryLocked = errors.New("voucher expiry can no longer change")

	// ErrStorageUnavailable is returned when the store fails.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionError names the voucher and the rejected edge.
type InvalidTransitionError struct {
	ID   string
	Op   Operation
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s voucher %s: %s -> %s is not allowed", e.Op, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError names the missing voucher by ID or code.
type NotFoundError struct {
	ID   string
	Code string
}

func (e *NotFoundError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voucher with code %s not found", e.Code)
	}
	return fmt.Sprintf("voucher %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is returned when code generation ran out of attempts.
// Minted reports how many vouchers were created before the failure.
type ConflictError struct {
	Requested int
	Minted    int
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("code space exhausted after %d attempts: minted %d of %d codes",
		e.Attempts, e.Minted, e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrCodeSpaceExhausted }

// ExpiryLockedError reports an expiry change on a voucher that can no longer move.
type ExpiryLockedError struct {
	Code   string
	Status Status
}

func (e *ExpiryLockedError) Error() string {
	return fmt.Sprintf("cannot change expiry of %s voucher %s", e.Status, e.Code)
}

func (e *ExpiryLockedError) Unwrap() error { return ErrExpiryLocked }

// StorageError wraps a failure from the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// storageErr wraps err as a StorageError unless it is already a domain error.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || IsClientError(err) || IsNotFound(err) || IsConflict(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing voucher.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request clashed with current voucher state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrCodeSpaceExhausted) ||
		errors.Is(err, ErrExpiryLocked)
}
