package pharmacy

import (
	"errors"
	"fmt"

	"github.com/warp/dispensing-engine/dispense"
)

var (
	ErrItemNotFound           = errors.New("inventory item not found")
	ErrPrescriptionNotFound   = errors.New("prescription not found")
	ErrPrescriptionNotPending = errors.New("prescription is not pending")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidPrescription    = errors.New("invalid prescription")
	ErrInvalidItem            = errors.New("invalid inventory item")
	ErrNotLiquid              = errors.New("item is not tracked by vial")
	ErrInvalidTransition      = errors.New("invalid vial status transition")
	ErrDuplicateItem          = errors.New("inventory item already exists")
	ErrDuplicatePrescription  = errors.New("prescription already exists")
)

// InsufficientStockError is the unit-item counterpart of
// dispense.InsufficientVolumeError.
type InsufficientStockError struct {
	ItemID    string
	Unit      string
	Current   int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock! Current: %d %s, Required: %d %s",
		e.Current, e.Unit, e.Requested, e.Unit)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// DispenseFailedError wraps a failed engine Result so the operator-facing
// message travels with the error.
type DispenseFailedError struct {
	PrescriptionID string
	Result         dispense.Result
}

func (e *DispenseFailedError) Error() string {
	return e.Result.Message
}

func (e *DispenseFailedError) Unwrap() error {
	return e.Result.Err
}

// IsClientError returns true if the error is due to the request or stock
// level rather than a fault in the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPrescriptionNotPending) ||
		errors.Is(err, ErrInvalidPrescription) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrNotLiquid) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateItem) ||
		errors.Is(err, ErrDuplicatePrescription) ||
		dispense.IsClientError(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrPrescriptionNotFound) ||
		dispense.IsNotFound(err)
}
