/*
Package pharmacy implements the clinical inventory workflow on top of the
dispensing engine.

PURPOSE:
  The dispense package knows about vials and volumes. This package knows
  about the things the clinic talks about: stock items, prescriptions,
  completing a prescription, receiving and quarantining vials, and the
  alerts raised when stock runs low or expires.

KEY CONCEPTS:
  InventoryItem:  A stock-keeping unit. Liquid items are tracked as vials;
                  unit items (tablets, boxes) by an integer Quantity.
  Prescription:   An order for an item. Liquid prescriptions carry a dose,
                  an administration count and an optional wastage buffer.
  Service:        Completes prescriptions exactly once. Liquid items go
                  through dispense.Dispenser; unit items deduct Quantity.

ITEM QUANTITY FOR LIQUIDS:
  For liquid items, Quantity is the number of ACTIVE vials, recomputed after
  every dispense, receipt, quarantine or expiry sweep. Total remaining
  volume is reported separately by StockSummary; it is never folded into
  Quantity.

SEE ALSO:
  - service.go: Workflow operations
  - alerts.go: Low stock and expiry notifications
  - dispense/allocator.go: The engine itself
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/warp/dispensing-engine/dispense"
)

// =============================================================================
// INVENTORY ITEM
// =============================================================================

type Category string

const (
	CategoryPharmaceuticals  Category = "Pharmaceuticals"
	CategorySurgicalSupplies Category = "Surgical Supplies"
	CategoryPPE              Category = "PPE"
	CategoryDiagnostics      Category = "Diagnostics"
	CategoryEquipment        Category = "Equipment"
)

type InventoryItem struct {
	ID          string
	Name        string
	Category    Category
	BatchNumber string
	Quantity    int
	MinLevel    int
	Unit        string // "tablets", "vials", "boxes", ...
	ExpiryDate  time.Time
	Location    string
	Supplier    string
	LastUpdated time.Time

	// Liquid items are dispensed by volume from individual vials.
	IsLiquid      bool
	TotalVolumeMl float64 // volume of a single vial, used when receiving stock
}

// =============================================================================
// PRESCRIPTION
// =============================================================================

type PrescriptionStatus string

const (
	StatusPending   PrescriptionStatus = "pending"
	StatusCompleted PrescriptionStatus = "completed"
	StatusCancelled PrescriptionStatus = "cancelled"
)

// Target distinguishes handing medication over from administering it on site.
type Target string

const (
	TargetPharmacy Target = "pharmacy" // dispense / sell
	TargetNursing  Target = "nursing"  // inject / administer
)

type Prescription struct {
	ID             string
	PatientName    string
	PatientAge     int
	MedicationID   string
	MedicationName string
	Dosage         string // free text, e.g. "10 units subcutaneous"

	// Liquid dosing. Zero values mean "not a liquid prescription".
	DoseAmountMl float64
	TotalShots   int
	BufferMl     float64

	DispenseQty int // unit items: quantity in item units
	Frequency   string
	Notes       string
	Target      Target
	Status      PrescriptionStatus
	DoctorName  string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsLiquid reports whether the prescription carries liquid dosing.
func (p Prescription) IsLiquid() bool {
	return p.DoseAmountMl > 0 && p.TotalShots > 0
}

// =============================================================================
// STOCK SUMMARY
// =============================================================================

// StockSummary is the read model for one liquid item.
type StockSummary struct {
	ItemID         string
	ActiveVials    int
	EmptyVials     int
	ExpiredVials   int
	Quarantined    int
	TotalRemaining dispense.Volume // over ACTIVE vials only
	NextExpiry     *time.Time      // earliest expiry among ACTIVE vials
}

// Summarize builds a StockSummary from an item's vials.
func Summarize(itemID string, vials []dispense.Vial) StockSummary {
	s := StockSummary{ItemID: itemID, TotalRemaining: dispense.ZeroVolume}
	for _, v := range vials {
		switch v.Status {
		case dispense.VialActive:
			s.ActiveVials++
			s.TotalRemaining = s.TotalRemaining.Add(v.RemainingVolume)
			if s.NextExpiry == nil || v.ExpiryDate.Before(*s.NextExpiry) {
				exp := v.ExpiryDate
				s.NextExpiry = &exp
			}
		case dispense.VialEmpty:
			s.EmptyVials++
		case dispense.VialExpired:
			s.ExpiredVials++
		case dispense.VialQuarantined:
			s.Quarantined++
		}
	}
	return s
}

// =============================================================================
// STORE
// =============================================================================

// Store persists items and prescriptions. Vials and logs live in dispense.Store.
type Store interface {
	SaveItem(ctx context.Context, item InventoryItem) error
	GetItem(ctx context.Context, id string) (*InventoryItem, error)
	ListItems(ctx context.Context) ([]InventoryItem, error)

	SavePrescription(ctx context.Context, p Prescription) error
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
	ListPrescriptions(ctx context.Context, status PrescriptionStatus) ([]Prescription, error)
}
