/*
allocator.go - FIFO draw / rollover allocation

PURPOSE:
  Turns a validated requirement into per-vial deductions. Vials are consumed
  in First-Expiry-First-Out order; when one vial cannot cover what is left,
  it is drained and the remainder rolls over to the next vial.

ALGORITHM:
  remaining := Round(dose * count + buffer)
  for each eligible vial, earliest expiry first, while remaining > 0:
    if vial.remaining >= remaining:  take remaining, remaining = 0
    else:                            take all of it, remaining -= taken
    round vial.remaining; if <= 0 the vial becomes EMPTY
    emit one DispenseLog; add the vial copy to UpdatedVials

  A vial holding exactly what is left is drained to 0 and marked EMPTY,
  never left ACTIVE with zero volume.

ALL-OR-NOTHING:
  Validate() runs before the loop. If supply is short, the Result carries no
  updates and no logs. If the loop still runs dry (validation and allocation
  disagree) the Result is an invariant failure, again with no updates.

EXAMPLE:
  Vials [1.5 (2023-11-01), 10 (2023-12-15), 10 (2024-01-20)], 0.5 mL x 10:
    vial 1: take 1.5 -> 0.0 EMPTY
    vial 2: take 3.5 -> 6.5 ACTIVE
    vial 3: untouched
  Two logs, two updated vials, 5 mL dispensed.

SEE ALSO:
  - selector.go: Ordering and eligibility
  - validator.go: Sufficiency check
  - service.go: Committing a Result against a Store
*/
package dispense

import (
	"fmt"
	"time"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine allocates dispense requests against vial snapshots.
// It holds no state between calls and is safe for concurrent use.
type Engine struct {
	Policy SelectionPolicy
	NewID  IDGenerator
}

func NewEngine() *Engine {
	return &Engine{NewID: NewLogID}
}

// Allocate validates req, selects eligible vials and draws the required volume.
// The vials argument is never modified; touched vials come back as copies in
// Result.UpdatedVials and must be merged by ID.
func (e *Engine) Allocate(vials []Vial, req DispenseRequest) Result {
	if err := req.Validate(); err != nil {
		return failed(err, ZeroVolume, ZeroVolume)
	}

	eligible := SelectVials(vials, req.InventoryItemID, req.At, e.Policy)

	required, available, err := Validate(eligible, req)
	if err != nil {
		return failed(err, required, available)
	}

	var (
		remaining = required
		emitter   = newLogEmitter(req.PrescriptionID, req.At, e.NewID)
		updated   = make([]Vial, 0, len(eligible))
	)

	for _, v := range eligible {
		if !remaining.IsPositive() {
			break
		}

		var taken Volume
		if v.RemainingVolume.GreaterThanOrEqual(remaining) {
			// This vial finishes the order
			taken = remaining
			v.RemainingVolume = v.RemainingVolume.Sub(taken)
			remaining = ZeroVolume
		} else {
			// Drain and roll over
			taken = v.RemainingVolume
			v.RemainingVolume = ZeroVolume
			remaining = remaining.Sub(taken)
		}

		if !v.RemainingVolume.IsPositive() {
			v.RemainingVolume = ZeroVolume
			v.Status = VialEmpty
		}

		emitter.Emit(v, taken)
		updated = append(updated, v)
	}

	if remaining.IsPositive() {
		return failed(&InvariantError{PrescriptionID: req.PrescriptionID, Undrawn: remaining}, required, available)
	}

	return Result{
		Success:      true,
		Message:      fmt.Sprintf("Dispensed %smL successfully across %d vial(s).", required, len(updated)),
		UpdatedVials: updated,
		Logs:         emitter.Logs(),
		Required:     required,
		Available:    available,
	}
}

func failed(err error, required, available Volume) Result {
	return Result{
		Success:      false,
		Message:      err.Error(),
		UpdatedVials: []Vial{},
		Logs:         []DispenseLog{},
		Required:     required,
		Available:    available,
		Kind:         KindOf(err),
		Err:          err,
	}
}

// =============================================================================
// CONVENIENCE ENTRY POINT
// =============================================================================

// Allocate runs the default engine with float inputs, stamping logs with the
// current time. Invalid inputs come back as a failed Result, not an error.
func Allocate(vials []Vial, medicationID, prescriptionID string, doseMl float64, count int, bufferMl float64) Result {
	req, err := NewDispenseRequest(medicationID, prescriptionID, doseMl, count, bufferMl, time.Now().UTC())
	if err != nil {
		return failed(err, ZeroVolume, ZeroVolume)
	}
	return NewEngine().Allocate(vials, req)
}
