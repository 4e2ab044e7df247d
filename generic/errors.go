/*
errors.go - Centralized error types for the stay engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these with context; the API layer classifies them
  with errors.Is / errors.As to pick an HTTP status.

ERROR CATEGORIES:
  1. Not found  - contract, violation or expense does not exist
  2. Conflict   - contract already closed, duplicate contract code
  3. Validation - input rejected before it reaches an engine

SEE ALSO:
  - rental/violation.go: Refuses edits on closed contracts
  - store/sqlite/sqlite.go: Maps constraint failures to these errors
  - api/handlers.go: Maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrContractNotFound is returned when a contract code is unknown.
	ErrContractNotFound = errors.New("contract not found")

	// ErrViolationNotFound is returned when a violation id is unknown.
	ErrViolationNotFound = errors.New("violation not found")

	// ErrExpenseNotFound is returned when an expense id is unknown.
	ErrExpenseNotFound = errors.New("expense not found")

	// ErrDuplicateContract is returned when a contract code is already taken.
	ErrDuplicateContract = errors.New("duplicate contract code")

	// ErrContractClosed is the closeout conflict: the contract was closed
	// before this write could be applied.
	ErrContractClosed = errors.New("contract already closed")

	// ErrViolationsChanged is returned by a guarded close when the contract's
	// open violations differ from the ones the settlement was computed from.
	ErrViolationsChanged = errors.New("violations changed during closeout")

	// ErrInvalidInput is returned when caller input fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
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

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ContractClosedError reports which contract refused the write.
type ContractClosedError struct {
	Code string
}

func (e *ContractClosedError) Error() string {
	return fmt.Sprintf("contract %s already closed", e.Code)
}

func (e *ContractClosedError) Unwrap() error { return ErrContractClosed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the write lost against existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrContractClosed) ||
		errors.Is(err, ErrDuplicateContract) ||
		errors.Is(err, ErrViolationsChanged)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrViolationNotFound) ||
		errors.Is(err, ErrExpenseNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
