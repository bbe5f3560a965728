/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Volumes cross the
  wire as JSON numbers in millilitres; inside they are always dispense.Volume.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Items:          ItemDTO, CreateItemRequest, StockSummaryDTO
  Vials:          VialDTO, ReceiveVialRequest, DispenseLogDTO
  Dispense:       DispenseRequestDTO, DispenseResultDTO
  Prescriptions:  PrescriptionDTO, CreatePrescriptionRequest, CompletionDTO
  Alerts:         AlertDTO
  Scenarios:      ScenarioDTO

VALIDATION:
  Validation is done in the domain packages, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/pharmacy"
)

// =============================================================================
// ITEMS
// =============================================================================

// ItemDTO represents an inventory item in API responses.
type ItemDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	BatchNumber   string  `json:"batch_number"`
	Quantity      int     `json:"quantity"`
	MinLevel      int     `json:"min_level"`
	Unit          string  `json:"unit"`
	ExpiryDate    string  `json:"expiry_date,omitempty"`
	Location      string  `json:"location"`
	Supplier      string  `json:"supplier"`
	LastUpdated   string  `json:"last_updated,omitempty"`
	IsLiquid      bool    `json:"is_liquid"`
	TotalVolumeMl float64 `json:"total_volume_ml,omitempty"`
	Status        string  `json:"status"`
}

// CreateItemRequest is the request to register an inventory item.
type CreateItemRequest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	BatchNumber   string  `json:"batch_number"`
	Quantity      int     `json:"quantity"`
	MinLevel      int     `json:"min_level"`
	Unit          string  `json:"unit"`
	ExpiryDate    string  `json:"expiry_date"` // YYYY-MM-DD
	Location      string  `json:"location"`
	Supplier      string  `json:"supplier"`
	IsLiquid      bool    `json:"is_liquid"`
	TotalVolumeMl float64 `json:"total_volume_ml"`
}

// StockSummaryDTO describes the vial stock of a liquid item.
type StockSummaryDTO struct {
	ItemID           string  `json:"item_id"`
	ActiveVials      int     `json:"active_vials"`
	EmptyVials       int     `json:"empty_vials"`
	ExpiredVials     int     `json:"expired_vials"`
	QuarantinedVials int     `json:"quarantined_vials"`
	TotalRemainingMl float64 `json:"total_remaining_ml"`
	NextExpiry       string  `json:"next_expiry,omitempty"`
}

// =============================================================================
// VIALS AND LOGS
// =============================================================================

// VialDTO represents a vial in API responses.
type VialDTO struct {
	ID                string  `json:"id"`
	InventoryItemID   string  `json:"inventory_item_id"`
	BatchNumber       string  `json:"batch_number"`
	ExpiryDate        string  `json:"expiry_date"`
	TotalVolumeMl     float64 `json:"total_volume_ml"`
	RemainingVolumeMl float64 `json:"remaining_volume_ml"`
	Status            string  `json:"status"`
}

// ReceiveVialRequest is the request to add a vial to a liquid item.
type ReceiveVialRequest struct {
	ID            string  `json:"id"`
	BatchNumber   string  `json:"batch_number"`
	ExpiryDate    string  `json:"expiry_date"` // YYYY-MM-DD
	TotalVolumeMl float64 `json:"total_volume_ml"`
}

// DispenseLogDTO represents one audit record.
type DispenseLogDTO struct {
	ID               string  `json:"id"`
	PrescriptionID   string  `json:"prescription_id"`
	VialID           string  `json:"vial_id"`
	AmountDeductedMl float64 `json:"amount_deducted_ml"`
	RemainingAfterMl float64 `json:"remaining_after_ml"`
	Timestamp        string  `json:"timestamp"`
}

// =============================================================================
// DISPENSE
// =============================================================================

// DispenseRequestDTO is the body of POST /api/dispense.
type DispenseRequestDTO struct {
	InventoryItemID       string  `json:"inventory_item_id"`
	PrescriptionID        string  `json:"prescription_id"`
	DosePerAdministration float64 `json:"dose_per_administration_ml"`
	AdministrationCount   int     `json:"administration_count"`
	BufferMl              float64 `json:"buffer_ml"`
}

// DispenseResultDTO mirrors dispense.Result.
type DispenseResultDTO struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Kind         string           `json:"kind,omitempty"`
	RequiredMl   float64          `json:"required_ml"`
	AvailableMl  float64          `json:"available_ml"`
	UpdatedVials []VialDTO        `json:"updated_vials"`
	Logs         []DispenseLogDTO `json:"logs"`
}

// =============================================================================
// PRESCRIPTIONS
// =============================================================================

// PrescriptionDTO represents a prescription in API responses.
type PrescriptionDTO struct {
	ID             string  `json:"id"`
	PatientName    string  `json:"patient_name"`
	PatientAge     int     `json:"patient_age"`
	MedicationID   string  `json:"medication_id"`
	MedicationName string  `json:"medication_name"`
	Dosage         string  `json:"dosage"`
	DoseAmountMl   float64 `json:"dose_amount_ml,omitempty"`
	TotalShots     int     `json:"total_shots,omitempty"`
	BufferMl       float64 `json:"buffer_ml,omitempty"`
	DispenseQty    int     `json:"dispense_qty"`
	Frequency      string  `json:"frequency"`
	Notes          string  `json:"notes"`
	Target         string  `json:"target"`
	Status         string  `json:"status"`
	DoctorName     string  `json:"doctor_name"`
	CreatedAt      string  `json:"created_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

// CreatePrescriptionRequest is the request to create a prescription.
type CreatePrescriptionRequest struct {
	ID           string  `json:"id"`
	PatientName  string  `json:"patient_name"`
	PatientAge   int     `json:"patient_age"`
	MedicationID string  `json:"medication_id"`
	Dosage       string  `json:"dosage"`
	DoseAmountMl float64 `json:"dose_amount_ml"`
	TotalShots   int     `json:"total_shots"`
	BufferMl     float64 `json:"buffer_ml"`
	DispenseQty  int     `json:"dispense_qty"`
	Frequency    string  `json:"frequency"`
	Notes        string  `json:"notes"`
	Target       string  `json:"target"`
	DoctorName   string  `json:"doctor_name"`
}

// CompletionDTO is returned by POST /api/prescriptions/{id}/complete.
type CompletionDTO struct {
	Prescription PrescriptionDTO    `json:"prescription"`
	Item         ItemDTO            `json:"item"`
	Dispense     *DispenseResultDTO `json:"dispense,omitempty"`
	Message      string             `json:"message"`
}

// =============================================================================
// ALERTS AND SCENARIOS
// =============================================================================

// AlertDTO represents a stock notification.
type AlertDTO struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func toItemDTO(item pharmacy.InventoryItem, now time.Time) ItemDTO {
	return ItemDTO{
		ID:            item.ID,
		Name:          item.Name,
		Category:      string(item.Category),
		BatchNumber:   item.BatchNumber,
		Quantity:      item.Quantity,
		MinLevel:      item.MinLevel,
		Unit:          item.Unit,
		ExpiryDate:    formatDate(item.ExpiryDate),
		Location:      item.Location,
		Supplier:      item.Supplier,
		LastUpdated:   formatDate(item.LastUpdated),
		IsLiquid:      item.IsLiquid,
		TotalVolumeMl: item.TotalVolumeMl,
		Status:        string(pharmacy.StockStatus(item, now)),
	}
}

func toVialDTO(v dispense.Vial) VialDTO {
	return VialDTO{
		ID:                v.ID,
		InventoryItemID:   v.InventoryItemID,
		BatchNumber:       v.BatchNumber,
		ExpiryDate:        formatDate(v.ExpiryDate),
		TotalVolumeMl:     v.TotalVolume.Float64(),
		RemainingVolumeMl: v.RemainingVolume.Float64(),
		Status:            string(v.Status),
	}
}

func toVialDTOs(vials []dispense.Vial) []VialDTO {
	dtos := make([]VialDTO, len(vials))
	for i, v := range vials {
		dtos[i] = toVialDTO(v)
	}
	return dtos
}

func toLogDTOs(logs []dispense.DispenseLog) []DispenseLogDTO {
	dtos := make([]DispenseLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = DispenseLogDTO{
			ID:               l.ID,
			PrescriptionID:   l.PrescriptionID,
			VialID:           l.VialID,
			AmountDeductedMl: l.Deducted.Float64(),
			RemainingAfterMl: l.RemainingAfter.Float64(),
			Timestamp:        l.Timestamp.Format(time.RFC3339),
		}
	}
	return dtos
}

func toResultDTO(r dispense.Result) DispenseResultDTO {
	return DispenseResultDTO{
		Success:      r.Success,
		Message:      r.Message,
		Kind:         string(r.Kind),
		RequiredMl:   r.Required.Float64(),
		AvailableMl:  r.Available.Float64(),
		UpdatedVials: toVialDTOs(r.UpdatedVials),
		Logs:         toLogDTOs(r.Logs),
	}
}

func toPrescriptionDTO(p pharmacy.Prescription) PrescriptionDTO {
	dto := PrescriptionDTO{
		ID:             p.ID,
		PatientName:    p.PatientName,
		PatientAge:     p.PatientAge,
		MedicationID:   p.MedicationID,
		MedicationName: p.MedicationName,
		Dosage:         p.Dosage,
		DoseAmountMl:   p.DoseAmountMl,
		TotalShots:     p.TotalShots,
		BufferMl:       p.BufferMl,
		DispenseQty:    p.DispenseQty,
		Frequency:      p.Frequency,
		Notes:          p.Notes,
		Target:         string(p.Target),
		Status:         string(p.Status),
		DoctorName:     p.DoctorName,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.CompletedAt != nil {
		s := p.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

func toSummaryDTO(s pharmacy.StockSummary) StockSummaryDTO {
	dto := StockSummaryDTO{
		ItemID:           s.ItemID,
		ActiveVials:      s.ActiveVials,
		EmptyVials:       s.EmptyVials,
		ExpiredVials:     s.ExpiredVials,
		QuarantinedVials: s.Quarantined,
		TotalRemainingMl: s.TotalRemaining.Float64(),
	}
	if s.NextExpiry != nil {
		dto.NextExpiry = formatDate(*s.NextExpiry)
	}
	return dto
}

func toAlertDTOs(alerts []pharmacy.Alert) []AlertDTO {
	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = AlertDTO{
			ID:        a.ID,
			ItemID:    a.ItemID,
			Title:     a.Title,
			Message:   a.Message,
			Severity:  string(a.Severity),
			Timestamp: a.Timestamp.Format(time.RFC3339),
		}
	}
	return dtos
}
