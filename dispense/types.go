/*
Package dispense provides the liquid-medication dispensing engine.

PURPOSE:
  A prescription asks for a fixed volume (dose x administrations + wastage
  buffer). Stock lives in individually tracked vials, many of them partially
  used and spread across batches. This package decides which vials to draw
  from, how much to take from each, and records every deduction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Volume: A millilitre quantity, decimal-backed, always rounded to 0.01 mL
  - Vial: One physical container with its own expiry and remaining volume
  - DispenseLog: An immutable audit record, one per vial touched
  - Result: What an allocation returns to the caller for committing

DESIGN PRINCIPLES:
  1. Purity: The engine never mutates the caller's vials; it returns copies
  2. Precision: decimal.Decimal + 2dp rounding, no float drift
  3. All-or-nothing: Sufficiency is checked before any deduction
  4. Auditability: Every vial touched yields exactly one DispenseLog

USAGE:
  req, err := dispense.NewDispenseRequest("insulin", "rx-1", 0.5, 10, 0.2, time.Now())
  result := dispense.NewEngine().Allocate(vials, req)
  if !result.Success {
      return result.Err
  }
  // merge result.UpdatedVials by ID, append result.Logs

SEE ALSO:
  - rounding.go: Volume arithmetic
  - selector.go: First-Expiry-First-Out vial ordering
  - allocator.go: The draw/rollover loop
  - service.go: Serialized allocate + commit against a Store
*/
package dispense

import (
	"time"
)

// =============================================================================
// VIAL - One physical container of liquid medication
// =============================================================================

type VialStatus string

const (
	VialActive      VialStatus = "ACTIVE"
	VialEmpty       VialStatus = "EMPTY"
	VialExpired     VialStatus = "EXPIRED"
	VialQuarantined VialStatus = "QUARANTINED"
)

func (s VialStatus) Valid() bool {
	switch s {
	case VialActive, VialEmpty, VialExpired, VialQuarantined:
		return true
	}
	return false
}

// Vial is a single container. RemainingVolume only ever decreases through the
// engine; EXPIRED and QUARANTINED are set by processes outside it.
type Vial struct {
	ID              string
	InventoryItemID string // owning medication SKU
	BatchNumber     string
	ExpiryDate      time.Time // calendar date, UTC midnight
	TotalVolume     Volume    // capacity at creation, immutable
	RemainingVolume Volume
	Status          VialStatus
}

// IsEligible reports whether the vial can be drawn from.
func (v Vial) IsEligible() bool {
	return v.Status == VialActive && v.RemainingVolume.IsPositive()
}

// ExpiredAsOf reports whether the expiry date is strictly before asOf's date.
func (v Vial) ExpiredAsOf(asOf time.Time) bool {
	return v.ExpiryDate.Before(Date(asOf))
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// DISPENSE LOG - Immutable audit record
// =============================================================================

// DispenseLog records one deduction from one vial.
// Logs are append-only; they are never updated or deleted.
type DispenseLog struct {
	ID             string
	PrescriptionID string
	VialID         string
	Deducted       Volume
	RemainingAfter Volume // vial's remaining volume right after this deduction
	Timestamp      time.Time
}

// =============================================================================
// RESULT - Outcome of an allocation
// =============================================================================

// FailureKind classifies why an allocation did not succeed.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureInvalidInput FailureKind = "invalid_input"
	FailureInsufficient FailureKind = "insufficient_stock"
	FailureInvariant    FailureKind = "invariant_violation"
)

// Result is returned by the engine. On failure UpdatedVials and Logs are empty
// and Err carries the structured cause.
type Result struct {
	Success      bool
	Message      string
	UpdatedVials []Vial
	Logs         []DispenseLog

	Required  Volume
	Available Volume
	Kind      FailureKind
	Err       error
}

// TotalDeducted sums Deducted across the result's logs.
func (r Result) TotalDeducted() Volume {
	total := ZeroVolume
	for _, l := range r.Logs {
		total = total.Add(l.Deducted)
	}
	return total
}
