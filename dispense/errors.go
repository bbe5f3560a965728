/*
errors.go - Centralized error types for the dispensing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these with additional context.

ERROR CATEGORIES:
  1. Input errors - Malformed dispense requests (caller contract violations)
  2. Stock errors - Not enough eligible volume; recoverable by restocking
  3. Invariant errors - Validation and allocation disagree; always a bug
  4. Store errors - Persistence failures and append-only violations

USAGE:
  result := engine.Allocate(vials, req)
  if errors.Is(result.Err, dispense.ErrInsufficientVolume) {
      // surface result.Message to the operator, leave prescription pending
  }

SEE ALSO:
  - validator.go: Produces InsufficientVolumeError
  - request.go: Produces RequestError
*/
package dispense

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest is returned for non-positive dose or count, negative
	// buffer, or missing identifiers. The engine does no work for such requests.
	ErrInvalidRequest = errors.New("invalid dispense request")

	// ErrInsufficientVolume is returned when eligible vials hold less than the
	// required volume. Nothing is mutated.
	ErrInsufficientVolume = errors.New("insufficient volume")

	// ErrAllocationInvariant is returned when the allocation loop runs out of
	// vials after validation passed. It indicates a bug and must not be ignored.
	ErrAllocationInvariant = errors.New("allocation invariant violated")

	// ErrVialNotFound is returned when an update references an unknown vial.
	ErrVialNotFound = errors.New("vial not found")

	// ErrDuplicateVial is returned when receiving a vial whose ID already exists.
	ErrDuplicateVial = errors.New("duplicate vial")

	// ErrDuplicateDispense is returned when logs for the same prescription and
	// vial are appended twice.
	ErrDuplicateDispense = errors.New("duplicate dispense log")

	// ErrStoreRequired is returned when an operation needs a transactional store.
	ErrStoreRequired = errors.New("operation requires transactional store")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RequestError names the offending request field.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid dispense request: %s %s", e.Field, e.Reason)
}

func (e *RequestError) Unwrap() error {
	return ErrInvalidRequest
}

// InsufficientVolumeError reports the requirement against what was available.
type InsufficientVolumeError struct {
	InventoryItemID string
	Required        Volume
	Buffer          Volume
	Available       Volume
}

func (e *InsufficientVolumeError) Error() string {
	return fmt.Sprintf("Insufficient volume. Required: %smL (incl. %smL buffer), Available: %smL",
		e.Required, e.Buffer, e.Available)
}

func (e *InsufficientVolumeError) Unwrap() error {
	return ErrInsufficientVolume
}

// Shortfall is how much more volume would be needed.
func (e *InsufficientVolumeError) Shortfall() Volume {
	return e.Required.Sub(e.Available)
}

// InvariantError carries the volume left undrawn when vials ran out.
type InvariantError struct {
	PrescriptionID string
	Undrawn        Volume
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("allocation invariant violated: %smL undrawn for prescription %s after validation passed",
		e.Undrawn, e.PrescriptionID)
}

func (e *InvariantError) Unwrap() error {
	return ErrAllocationInvariant
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request or stock level
// rather than a fault in the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInsufficientVolume) ||
		errors.Is(err, ErrDuplicateDispense) ||
		errors.Is(err, ErrDuplicateVial)
}

// IsNotFound returns true if the error indicates a missing vial.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVialNotFound)
}

// KindOf maps an error to the FailureKind reported in a Result.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrInvalidRequest):
		return FailureInvalidInput
	case errors.Is(err, ErrInsufficientVolume):
		return FailureInsufficient
	default:
		return FailureInvariant
	}
}
