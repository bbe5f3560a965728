/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	clinic data for testing and demos. Each scenario creates inventory items,
	insulin vials and pending prescriptions that exercise a specific path
	through the dispensing engine.

AVAILABLE SCENARIOS:

	clinic-demo:      Six stock items, three insulin vials, two pending
	                  prescriptions (one tablet, one multi-vial insulin)
	insulin-shortage: One nearly empty vial; completing the insulin
	                  prescription is refused with the volume message
	expiry-sweep:     Vials past their expiry date waiting for the sweeper

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save inventory items
 3. Save vials for liquid items
 4. Save pending prescriptions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "clinic-demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Endpoints the demo data is meant to be driven through
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/pharmacy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clinic-demo",
		Name:        "Clinic Demo",
		Description: "Stock list with insulin vials and two pending prescriptions",
	},
	{
		ID:          "insulin-shortage",
		Name:        "Insulin Shortage",
		Description: "Only 1.5 mL of insulin left; the insulin prescription cannot be fulfilled",
	},
	{
		ID:          "expiry-sweep",
		Name:        "Expiry Sweep",
		Description: "Active vials past their expiry date, ready for POST /api/admin/expire",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "clinic-demo":
		load = h.loadClinicDemoScenario
	case "insulin-shortage":
		load = h.loadInsulinShortageScenario
	case "expiry-sweep":
		load = h.loadExpirySweepScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.Logger.Error().Err(err).Str("scenario", req.ScenarioID).Msg("failed to load scenario")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadClinicDemoScenario(ctx context.Context) error {
	if err := h.saveItems(ctx, clinicItems()); err != nil {
		return err
	}
	vials := []dispense.Vial{
		demoVial("v-101", "INS-BATCH-A", "2023-11-01", 1.5),
		demoVial("v-102", "INS-BATCH-B", "2023-12-15", 10),
		demoVial("v-103", "INS-BATCH-C", "2024-01-20", 10),
	}
	if err := h.saveVials(ctx, vials); err != nil {
		return err
	}
	return h.savePrescriptions(ctx, clinicPrescriptions())
}

func (h *Handler) loadInsulinShortageScenario(ctx context.Context) error {
	items := clinicItems()
	items[2].Quantity = 1
	if err := h.saveItems(ctx, items); err != nil {
		return err
	}
	if err := h.saveVials(ctx, []dispense.Vial{
		demoVial("v-101", "INS-BATCH-A", "2023-11-01", 1.5),
	}); err != nil {
		return err
	}
	return h.savePrescriptions(ctx, clinicPrescriptions())
}

func (h *Handler) loadExpirySweepScenario(ctx context.Context) error {
	items := clinicItems()
	if err := h.saveItems(ctx, items); err != nil {
		return err
	}
	// Relative to the clock so the sweep always has something to do.
	today := dispense.Date(h.Now())
	vials := []dispense.Vial{
		demoVial("v-201", "INS-OLD-1", today.AddDate(0, -2, 0).Format(time.DateOnly), 4),
		demoVial("v-202", "INS-OLD-2", today.AddDate(0, 0, -1).Format(time.DateOnly), 10),
		demoVial("v-203", "INS-NEW-1", today.AddDate(0, 3, 0).Format(time.DateOnly), 10),
	}
	return h.saveVials(ctx, vials)
}

// =============================================================================
// DEMO DATA
// =============================================================================

func clinicItems() []pharmacy.InventoryItem {
	return []pharmacy.InventoryItem{
		{ID: "1", Name: "Paracetamol 500mg", Category: pharmacy.CategoryPharmaceuticals, BatchNumber: "B-101", Quantity: 5000, MinLevel: 1000, Unit: "tablets", ExpiryDate: demoDate("2025-12-31"), Location: "Shelf A-1", Supplier: "PharmaCorp", LastUpdated: demoDate("2023-10-25")},
		{ID: "2", Name: "Surgical Masks (N95)", Category: pharmacy.CategoryPPE, BatchNumber: "PPE-22", Quantity: 45, MinLevel: 100, Unit: "boxes", ExpiryDate: demoDate("2024-05-15"), Location: "Room 3", Supplier: "SafeMed", LastUpdated: demoDate("2023-10-24")},
		{ID: "3", Name: "Insulin Glargine", Category: pharmacy.CategoryPharmaceuticals, BatchNumber: "INS-99", Quantity: 3, MinLevel: 20, Unit: "vials", ExpiryDate: demoDate("2023-11-10"), Location: "Fridge 2", Supplier: "BioLife", LastUpdated: demoDate("2023-10-26"), IsLiquid: true, TotalVolumeMl: 10},
		{ID: "4", Name: "Sterile Gloves (L)", Category: pharmacy.CategorySurgicalSupplies, BatchNumber: "GLV-05", Quantity: 200, MinLevel: 50, Unit: "pairs", ExpiryDate: demoDate("2026-01-20"), Location: "Shelf B-2", Supplier: "GlovesInc", LastUpdated: demoDate("2023-10-20")},
		{ID: "5", Name: "Amoxicillin 250mg", Category: pharmacy.CategoryPharmaceuticals, BatchNumber: "AMX-44", Quantity: 800, MinLevel: 200, Unit: "capsules", ExpiryDate: demoDate("2024-08-30"), Location: "Shelf A-3", Supplier: "PharmaCorp", LastUpdated: demoDate("2023-10-25")},
		{ID: "6", Name: "Defibrillator Pads", Category: pharmacy.CategoryEquipment, BatchNumber: "DEF-01", Quantity: 5, MinLevel: 8, Unit: "sets", ExpiryDate: demoDate("2024-02-15"), Location: "ER Storage", Supplier: "MedEquip", LastUpdated: demoDate("2023-10-27")},
	}
}

func clinicPrescriptions() []pharmacy.Prescription {
	return []pharmacy.Prescription{
		{
			ID:             "rx-1001",
			PatientName:    "Alice Johnson",
			PatientAge:     34,
			MedicationID:   "1",
			MedicationName: "Paracetamol 500mg",
			Dosage:         "1000mg",
			DispenseQty:    2,
			Frequency:      "Every 6 hours",
			Notes:          "For fever",
			Target:         pharmacy.TargetPharmacy,
			Status:         pharmacy.StatusPending,
			DoctorName:     "Dr. Sarah Cole",
			CreatedAt:      time.Date(2023, time.October, 27, 9, 30, 0, 0, time.UTC),
		},
		{
			ID:             "rx-1002",
			PatientName:    "Robert Smith",
			PatientAge:     62,
			MedicationID:   "3",
			MedicationName: "Insulin Glargine",
			Dosage:         "0.5mL x 10 shots",
			DoseAmountMl:   0.5,
			TotalShots:     10,
			BufferMl:       0.2,
			Frequency:      "Once daily at bedtime",
			Notes:          "Monitor glucose levels",
			Target:         pharmacy.TargetNursing,
			Status:         pharmacy.StatusPending,
			DoctorName:     "Dr. Sarah Cole",
			CreatedAt:      time.Date(2023, time.October, 27, 10, 15, 0, 0, time.UTC),
		},
	}
}

func demoVial(id, batch, expiry string, remainingMl float64) dispense.Vial {
	return dispense.Vial{
		ID:              id,
		InventoryItemID: "3",
		BatchNumber:     batch,
		ExpiryDate:      demoDate(expiry),
		TotalVolume:     dispense.NewVolume(10),
		RemainingVolume: dispense.NewVolume(remainingMl),
		Status:          dispense.VialActive,
	}
}

func demoDate(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(fmt.Sprintf("bad demo date %q: %v", s, err))
	}
	return t
}

func (h *Handler) saveItems(ctx context.Context, items []pharmacy.InventoryItem) error {
	for _, item := range items {
		if err := h.Store.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
	}
	return nil
}

func (h *Handler) saveVials(ctx context.Context, vials []dispense.Vial) error {
	for _, v := range vials {
		if err := h.Store.SaveVial(ctx, v); err != nil {
			return fmt.Errorf("save vial %s: %w", v.ID, err)
		}
	}
	return nil
}

func (h *Handler) savePrescriptions(ctx context.Context, rxs []pharmacy.Prescription) error {
	for _, rx := range rxs {
		if err := h.Store.SavePrescription(ctx, rx); err != nil {
			return fmt.Errorf("save prescription %s: %w", rx.ID, err)
		}
	}
	return nil
}
