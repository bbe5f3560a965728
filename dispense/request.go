package dispense

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DISPENSE REQUEST - Typed, validated input to the engine
// =============================================================================

// DispenseRequest describes one dispensing transaction. It is ephemeral and
// never persisted; the resulting DispenseLogs are the durable record.
type DispenseRequest struct {
	InventoryItemID string
	PrescriptionID  string

	// DosePerAdministration and Buffer are kept unrounded; only the total
	// requirement is rounded, so a 0.333 mL dose x 3 is 1.00 mL, not 0.99.
	DosePerAdministration decimal.Decimal
	AdministrationCount   int
	Buffer                decimal.Decimal

	// At is the transaction time, stamped on logs and used as "now" for
	// expiry-aware selection.
	At time.Time
}

// NewDispenseRequest builds a request and checks its invariants:
// dose > 0, count >= 1, buffer >= 0.
func NewDispenseRequest(itemID, prescriptionID string, doseMl float64, count int, bufferMl float64, at time.Time) (DispenseRequest, error) {
	if math.IsNaN(doseMl) || math.IsInf(doseMl, 0) {
		return DispenseRequest{}, &RequestError{Field: "dose_per_administration_ml", Reason: "must be a finite number"}
	}
	if math.IsNaN(bufferMl) || math.IsInf(bufferMl, 0) {
		return DispenseRequest{}, &RequestError{Field: "buffer_ml", Reason: "must be a finite number"}
	}
	req := DispenseRequest{
		InventoryItemID:       itemID,
		PrescriptionID:        prescriptionID,
		DosePerAdministration: decimal.NewFromFloat(doseMl),
		AdministrationCount:   count,
		Buffer:                decimal.NewFromFloat(bufferMl),
		At:                    at,
	}
	if err := req.Validate(); err != nil {
		return DispenseRequest{}, err
	}
	return req, nil
}

// Validate re-checks the invariants for requests built as struct literals.
func (r DispenseRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.InventoryItemID) == "":
		return &RequestError{Field: "inventory_item_id", Reason: "is required"}
	case strings.TrimSpace(r.PrescriptionID) == "":
		return &RequestError{Field: "prescription_id", Reason: "is required"}
	case !r.DosePerAdministration.IsPositive():
		return &RequestError{Field: "dose_per_administration_ml", Reason: "must be greater than 0"}
	case r.AdministrationCount < 1:
		return &RequestError{Field: "administration_count", Reason: "must be at least 1"}
	case r.Buffer.IsNegative():
		return &RequestError{Field: "buffer_ml", Reason: "must not be negative"}
	}
	return nil
}

// RequiredVolume is Round(dose * count + buffer).
func (r DispenseRequest) RequiredVolume() Volume {
	total := r.DosePerAdministration.Mul(decimal.NewFromInt(int64(r.AdministrationCount))).Add(r.Buffer)
	return VolumeFromDecimal(total)
}

// BufferVolume is the rounded wastage buffer, for reporting.
func (r DispenseRequest) BufferVolume() Volume {
	return VolumeFromDecimal(r.Buffer)
}
