package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/dispensing-engine/dispense"
)

// =============================================================================
// SERVICE - Prescription and stock workflow
// =============================================================================

// Service owns every write to items and prescriptions. All writes touching an
// item's stock hold the dispenser's lock for that item, so the vial count
// written back to the item always matches what was just committed.
type Service struct {
	Store     Store
	Vials     dispense.Store
	Dispenser *dispense.Dispenser
	Logger    zerolog.Logger

	// NewID generates identifiers for new prescriptions and vials.
	NewID func(prefix string) string

	// rxLocks serializes creation and ad-hoc dispensing per prescription ID.
	rxLocks *dispense.KeyLocker
}

func NewService(store Store, dispenser *dispense.Dispenser, logger zerolog.Logger) *Service {
	return &Service{
		Store:     store,
		Vials:     dispenser.Store,
		Dispenser: dispenser,
		Logger:    logger.With().Str("component", "pharmacy").Logger(),
		NewID:     newID,
		rxLocks:   dispense.NewKeyLocker(),
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Completion is what CompletePrescription returns.
type Completion struct {
	Prescription Prescription
	Item         InventoryItem

	// Dispense is the engine result for liquid prescriptions. It is nil for
	// unit items and for completions that found the dispense already recorded.
	Dispense *dispense.Result
}

// =============================================================================
// ITEMS
// =============================================================================

// CreateItem registers a new stock item. An ID that is already taken is
// rejected with ErrDuplicateItem.
func (s *Service) CreateItem(ctx context.Context, item InventoryItem, at time.Time) (InventoryItem, error) {
	if strings.TrimSpace(item.Name) == "" {
		return InventoryItem{}, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if item.Quantity < 0 || item.MinLevel < 0 {
		return InventoryItem{}, fmt.Errorf("%w: quantity and min level must not be negative", ErrInvalidItem)
	}
	if item.IsLiquid && item.TotalVolumeMl <= 0 {
		return InventoryItem{}, fmt.Errorf("%w: liquid items need a positive vial volume", ErrInvalidItem)
	}
	if item.ID == "" {
		item.ID = s.NewID("item")
	}
	if item.IsLiquid {
		// vial count is derived; it starts at zero until vials are received
		item.Quantity = 0
		if item.Unit == "" {
			item.Unit = "vials"
		}
	}
	item.LastUpdated = dispense.Date(at)

	unlock := s.Dispenser.Lock(item.ID)
	defer unlock()

	existing, err := s.Store.GetItem(ctx, item.ID)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("get item %s: %w", item.ID, err)
	}
	if existing != nil {
		return InventoryItem{}, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}

	if err := s.Store.SaveItem(ctx, item); err != nil {
		return InventoryItem{}, fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (InventoryItem, error) {
	item, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("get item %s: %w", id, err)
	}
	if item == nil {
		return InventoryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]InventoryItem, error) {
	return s.Store.ListItems(ctx)
}

// =============================================================================
// PRESCRIPTIONS
// =============================================================================

// CreatePrescription validates p against its medication and stores it as
// pending. An ID that already names a prescription, or that already has
// dispense logs, is rejected with ErrDuplicatePrescription.
func (s *Service) CreatePrescription(ctx context.Context, p Prescription, at time.Time) (Prescription, error) {
	if strings.TrimSpace(p.PatientName) == "" {
		return Prescription{}, fmt.Errorf("%w: patient name is required", ErrInvalidPrescription)
	}
	item, err := s.GetItem(ctx, p.MedicationID)
	if err != nil {
		return Prescription{}, err
	}

	if item.IsLiquid {
		// Same checks the engine applies, so a stored liquid prescription
		// can always be turned into a request.
		if _, err := dispense.NewDispenseRequest(item.ID, "validate", p.DoseAmountMl, p.TotalShots, p.BufferMl, at); err != nil {
			return Prescription{}, fmt.Errorf("%w: %v", ErrInvalidPrescription, err)
		}
	} else if p.DispenseQty < 1 {
		return Prescription{}, fmt.Errorf("%w: dispense quantity must be at least 1", ErrInvalidPrescription)
	}

	switch p.Target {
	case "":
		p.Target = TargetPharmacy
	case TargetPharmacy, TargetNursing:
	default:
		return Prescription{}, fmt.Errorf("%w: unknown target %q", ErrInvalidPrescription, p.Target)
	}

	if p.ID == "" {
		p.ID = s.NewID("rx")
	}
	if p.MedicationName == "" {
		p.MedicationName = item.Name
	}
	if p.Dosage == "" && item.IsLiquid {
		p.Dosage = fmt.Sprintf("%smL x %d shots", dispense.NewVolume(p.DoseAmountMl), p.TotalShots)
	}
	p.Status = StatusPending
	p.CreatedAt = at
	p.CompletedAt = nil

	unlock := s.rxLocks.Lock(p.ID)
	defer unlock()

	if err := s.checkPrescriptionIDFree(ctx, p.ID); err != nil {
		return Prescription{}, err
	}
	if err := s.Store.SavePrescription(ctx, p); err != nil {
		return Prescription{}, fmt.Errorf("save prescription %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Service) GetPrescription(ctx context.Context, id string) (Prescription, error) {
	p, err := s.Store.GetPrescription(ctx, id)
	if err != nil {
		return Prescription{}, fmt.Errorf("get prescription %s: %w", id, err)
	}
	if p == nil {
		return Prescription{}, fmt.Errorf("%w: %s", ErrPrescriptionNotFound, id)
	}
	return *p, nil
}

// ListPrescriptions returns prescriptions with the given status, or all when
// status is empty.
func (s *Service) ListPrescriptions(ctx context.Context, status PrescriptionStatus) ([]Prescription, error) {
	return s.Store.ListPrescriptions(ctx, status)
}

// PrescriptionLogs returns the vial deductions recorded for a prescription.
func (s *Service) PrescriptionLogs(ctx context.Context, id string) ([]dispense.DispenseLog, error) {
	if _, err := s.GetPrescription(ctx, id); err != nil {
		return nil, err
	}
	return s.Vials.LogsByPrescription(ctx, id)
}

// =============================================================================
// COMPLETE PRESCRIPTION
// =============================================================================

// CompletePrescription fulfils a pending prescription.
//
// Liquid items with liquid dosing go through the Dispenser exactly once; the
// item's Quantity is then reset to its ACTIVE vial count. Everything else is a
// unit deduction of DispenseQty. On any failure the prescription stays
// pending and no stock changes.
//
// Vial/log commit and the status write are separate steps. If the status
// write fails after the dispense committed, retrying finds the logs and
// completes without dispensing again.
func (s *Service) CompletePrescription(ctx context.Context, id string, at time.Time) (Completion, error) {
	rx, err := s.GetPrescription(ctx, id)
	if err != nil {
		return Completion{}, err
	}

	unlock := s.Dispenser.Lock(rx.MedicationID)
	defer unlock()

	// re-read under the lock; a concurrent call may have completed it
	rx, err = s.GetPrescription(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	if rx.Status != StatusPending {
		return Completion{}, fmt.Errorf("%w: %s is %s", ErrPrescriptionNotPending, id, rx.Status)
	}

	item, err := s.GetItem(ctx, rx.MedicationID)
	if err != nil {
		return Completion{}, err
	}

	log := s.Logger.With().Str("prescription_id", rx.ID).Str("item_id", item.ID).Logger()

	var completion Completion
	if item.IsLiquid && rx.IsLiquid() {
		completion, err = s.completeLiquid(ctx, rx, item, at, log)
	} else {
		completion, err = s.completeUnit(ctx, rx, item, at)
	}
	if err != nil {
		log.Warn().Err(err).Msg("prescription not completed")
		return Completion{}, err
	}

	completed := at
	completion.Prescription.Status = StatusCompleted
	completion.Prescription.CompletedAt = &completed
	if err := s.Store.SavePrescription(ctx, completion.Prescription); err != nil {
		log.Error().Err(err).Msg("stock committed but prescription status not saved")
		return Completion{}, fmt.Errorf("mark prescription %s completed: %w", rx.ID, err)
	}

	log.Info().Str("target", string(rx.Target)).Int("item_quantity", completion.Item.Quantity).Msg("prescription completed")
	return completion, nil
}

func (s *Service) completeLiquid(ctx context.Context, rx Prescription, item InventoryItem, at time.Time, log zerolog.Logger) (Completion, error) {
	existing, err := s.Vials.LogsByPrescription(ctx, rx.ID)
	if err != nil {
		return Completion{}, fmt.Errorf("check prior dispense for %s: %w", rx.ID, err)
	}

	req, err := dispense.NewDispenseRequest(item.ID, rx.ID, rx.DoseAmountMl, rx.TotalShots, rx.BufferMl, at)
	if err != nil {
		return Completion{}, err
	}

	var dispensed *dispense.Result
	if len(existing) > 0 {
		// Only a full earlier dispense of this prescription counts as done.
		recorded := dispense.Result{Logs: existing}.TotalDeducted()
		required := req.RequiredVolume()
		if !recorded.Equal(required) {
			log.Error().Str("recorded_ml", recorded.String()).Str("required_ml", required.String()).
				Msg("recorded dispense does not match prescription")
			return Completion{}, fmt.Errorf("%w: %s has %smL recorded, %smL required",
				dispense.ErrDuplicateDispense, rx.ID, recorded, required)
		}
		log.Warn().Int("logs", len(existing)).Msg("dispense already recorded, completing without re-dispensing")
	} else {
		result, err := s.Dispenser.DispenseLocked(ctx, req)
		if err != nil {
			return Completion{}, err
		}
		if !result.Success {
			return Completion{}, &DispenseFailedError{PrescriptionID: rx.ID, Result: result}
		}
		dispensed = &result
	}

	item, err = s.resyncLocked(ctx, item, at)
	if err != nil {
		return Completion{}, err
	}
	return Completion{Prescription: rx, Item: item, Dispense: dispensed}, nil
}

func (s *Service) completeUnit(ctx context.Context, rx Prescription, item InventoryItem, at time.Time) (Completion, error) {
	if rx.DispenseQty < 0 {
		return Completion{}, fmt.Errorf("%w: dispense quantity must not be negative", ErrInvalidPrescription)
	}
	if item.Quantity < rx.DispenseQty {
		return Completion{}, &InsufficientStockError{
			ItemID:    item.ID,
			Unit:      item.Unit,
			Current:   item.Quantity,
			Requested: rx.DispenseQty,
		}
	}

	item.Quantity -= rx.DispenseQty
	item.LastUpdated = dispense.Date(at)
	if err := s.Store.SaveItem(ctx, item); err != nil {
		return Completion{}, fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return Completion{Prescription: rx, Item: item}, nil
}

// CancelPrescription moves a pending prescription to cancelled. No stock moves.
func (s *Service) CancelPrescription(ctx context.Context, id string) (Prescription, error) {
	rx, err := s.GetPrescription(ctx, id)
	if err != nil {
		return Prescription{}, err
	}

	unlock := s.Dispenser.Lock(rx.MedicationID)
	defer unlock()

	rx, err = s.GetPrescription(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	if rx.Status != StatusPending {
		return Prescription{}, fmt.Errorf("%w: %s is %s", ErrPrescriptionNotPending, id, rx.Status)
	}

	rx.Status = StatusCancelled
	if err := s.Store.SavePrescription(ctx, rx); err != nil {
		return Prescription{}, fmt.Errorf("cancel prescription %s: %w", id, err)
	}
	s.Logger.Info().Str("prescription_id", id).Msg("prescription cancelled")
	return rx, nil
}

// =============================================================================
// VIAL LIFECYCLE
// =============================================================================

// VialReceipt describes a vial arriving from a supplier.
type VialReceipt struct {
	ID            string // optional; generated when empty
	ItemID        string
	BatchNumber   string
	ExpiryDate    time.Time
	TotalVolumeMl float64 // optional; defaults to the item's vial volume
}

// ReceiveVial adds a full ACTIVE vial to a liquid item's stock.
func (s *Service) ReceiveVial(ctx context.Context, in VialReceipt, at time.Time) (dispense.Vial, error) {
	item, err := s.GetItem(ctx, in.ItemID)
	if err != nil {
		return dispense.Vial{}, err
	}
	if !item.IsLiquid {
		return dispense.Vial{}, fmt.Errorf("%w: %s", ErrNotLiquid, item.ID)
	}
	if in.ExpiryDate.IsZero() {
		return dispense.Vial{}, fmt.Errorf("%w: expiry date is required", ErrInvalidItem)
	}

	volume := in.TotalVolumeMl
	if volume == 0 {
		volume = item.TotalVolumeMl
	}
	total := dispense.NewVolume(volume)
	if !total.IsPositive() {
		return dispense.Vial{}, fmt.Errorf("%w: vial volume must be greater than 0", ErrInvalidItem)
	}

	v := dispense.Vial{
		ID:              in.ID,
		InventoryItemID: item.ID,
		BatchNumber:     in.BatchNumber,
		ExpiryDate:      dispense.Date(in.ExpiryDate),
		TotalVolume:     total,
		RemainingVolume: total,
		Status:          dispense.VialActive,
	}
	if v.ID == "" {
		v.ID = s.NewID("v")
	}

	unlock := s.Dispenser.Lock(item.ID)
	defer unlock()

	if err := s.Vials.SaveVial(ctx, v); err != nil {
		return dispense.Vial{}, fmt.Errorf("save vial %s: %w", v.ID, err)
	}
	if _, err := s.resyncLocked(ctx, item, at); err != nil {
		return dispense.Vial{}, err
	}

	s.Logger.Info().Str("vial_id", v.ID).Str("item_id", item.ID).Str("volume_ml", total.String()).Msg("vial received")
	return v, nil
}

// QuarantineVial pulls an ACTIVE vial out of circulation.
func (s *Service) QuarantineVial(ctx context.Context, vialID string, at time.Time) (dispense.Vial, error) {
	v, err := s.getVial(ctx, vialID)
	if err != nil {
		return dispense.Vial{}, err
	}

	unlock := s.Dispenser.Lock(v.InventoryItemID)
	defer unlock()

	v, err = s.getVial(ctx, vialID)
	if err != nil {
		return dispense.Vial{}, err
	}
	if v.Status != dispense.VialActive {
		return dispense.Vial{}, fmt.Errorf("%w: vial %s is %s", ErrInvalidTransition, vialID, v.Status)
	}

	v.Status = dispense.VialQuarantined
	if err := s.Vials.UpdateVials(ctx, []dispense.Vial{v}); err != nil {
		return dispense.Vial{}, fmt.Errorf("quarantine vial %s: %w", vialID, err)
	}
	if err := s.resyncItem(ctx, v.InventoryItemID, at); err != nil {
		return dispense.Vial{}, err
	}

	s.Logger.Warn().Str("vial_id", v.ID).Str("item_id", v.InventoryItemID).Msg("vial quarantined")
	return v, nil
}

// ExpireVials marks every ACTIVE vial whose expiry date is before asOf's date
// as EXPIRED and returns the vials it changed.
func (s *Service) ExpireVials(ctx context.Context, asOf time.Time) ([]dispense.Vial, error) {
	all, err := s.Vials.ListVials(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list vials: %w", err)
	}

	var itemIDs []string
	seen := make(map[string]bool)
	for _, v := range all {
		if v.Status == dispense.VialActive && v.ExpiredAsOf(asOf) && !seen[v.InventoryItemID] {
			seen[v.InventoryItemID] = true
			itemIDs = append(itemIDs, v.InventoryItemID)
		}
	}

	expired := []dispense.Vial{}
	for _, itemID := range itemIDs {
		changed, err := s.expireItem(ctx, itemID, asOf)
		if err != nil {
			return expired, err
		}
		expired = append(expired, changed...)
	}

	if len(expired) > 0 {
		s.Logger.Info().Int("vials", len(expired)).Time("as_of", asOf).Msg("vials expired")
	}
	return expired, nil
}

func (s *Service) expireItem(ctx context.Context, itemID string, asOf time.Time) ([]dispense.Vial, error) {
	unlock := s.Dispenser.Lock(itemID)
	defer unlock()

	vials, err := s.Vials.ListVials(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list vials for %s: %w", itemID, err)
	}
	var changed []dispense.Vial
	for _, v := range vials {
		if v.Status == dispense.VialActive && v.ExpiredAsOf(asOf) {
			v.Status = dispense.VialExpired
			changed = append(changed, v)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.Vials.UpdateVials(ctx, changed); err != nil {
		return nil, fmt.Errorf("expire vials for %s: %w", itemID, err)
	}
	if err := s.resyncItem(ctx, itemID, asOf); err != nil {
		return nil, err
	}
	return changed, nil
}

// StockSummary reports vial counts and remaining volume for a liquid item.
func (s *Service) StockSummary(ctx context.Context, itemID string) (StockSummary, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return StockSummary{}, err
	}
	if !item.IsLiquid {
		return StockSummary{}, fmt.Errorf("%w: %s", ErrNotLiquid, itemID)
	}
	vials, err := s.Vials.ListVials(ctx, itemID)
	if err != nil {
		return StockSummary{}, fmt.Errorf("list vials for %s: %w", itemID, err)
	}
	return Summarize(itemID, vials), nil
}

// ListVials returns the vials of an item in receipt order.
func (s *Service) ListVials(ctx context.Context, itemID string) ([]dispense.Vial, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.Vials.ListVials(ctx, itemID)
}

// Alerts runs GenerateAlerts over the current item list.
func (s *Service) Alerts(ctx context.Context, now time.Time, warnDays int, dismissed map[string]bool) ([]Alert, error) {
	items, err := s.Store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return GenerateAlerts(items, now, warnDays, dismissed), nil
}

// Dispense commits an ad-hoc request against a liquid item, outside the
// prescription workflow, and resyncs the item's vial count. The request's
// prescription ID must not belong to a stored prescription.
func (s *Service) Dispense(ctx context.Context, req dispense.DispenseRequest) (dispense.Result, error) {
	unlockRx := s.rxLocks.Lock(req.PrescriptionID)
	defer unlockRx()

	rx, err := s.Store.GetPrescription(ctx, req.PrescriptionID)
	if err != nil {
		return dispense.Result{}, fmt.Errorf("get prescription %s: %w", req.PrescriptionID, err)
	}
	if rx != nil {
		return dispense.Result{}, fmt.Errorf("%w: %s is dispensed through completion", ErrDuplicatePrescription, req.PrescriptionID)
	}

	unlock := s.Dispenser.Lock(req.InventoryItemID)
	defer unlock()

	result, err := s.Dispenser.DispenseLocked(ctx, req)
	if err != nil || !result.Success {
		return result, err
	}
	if err := s.resyncItem(ctx, req.InventoryItemID, req.At); err != nil {
		// The dispense itself is committed; a stale count heals on the next resync.
		s.Logger.Error().Err(err).Str("inventory_item_id", req.InventoryItemID).Msg("failed to resync item quantity")
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) checkPrescriptionIDFree(ctx context.Context, id string) error {
	existing, err := s.Store.GetPrescription(ctx, id)
	if err != nil {
		return fmt.Errorf("get prescription %s: %w", id, err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicatePrescription, id)
	}
	logs, err := s.Vials.LogsByPrescription(ctx, id)
	if err != nil {
		return fmt.Errorf("check dispense logs for %s: %w", id, err)
	}
	if len(logs) > 0 {
		return fmt.Errorf("%w: %s already has dispense logs", ErrDuplicatePrescription, id)
	}
	return nil
}

func (s *Service) getVial(ctx context.Context, id string) (dispense.Vial, error) {
	v, err := s.Vials.GetVial(ctx, id)
	if err != nil {
		return dispense.Vial{}, fmt.Errorf("get vial %s: %w", id, err)
	}
	if v == nil {
		return dispense.Vial{}, fmt.Errorf("%w: %s", dispense.ErrVialNotFound, id)
	}
	return *v, nil
}

func (s *Service) resyncItem(ctx context.Context, itemID string, at time.Time) error {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	_, err = s.resyncLocked(ctx, item, at)
	return err
}

// resyncLocked sets a liquid item's Quantity to its ACTIVE vial count. The
// caller holds the item's lock.
func (s *Service) resyncLocked(ctx context.Context, item InventoryItem, at time.Time) (InventoryItem, error) {
	vials, err := s.Vials.ListVials(ctx, item.ID)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("list vials for %s: %w", item.ID, err)
	}
	active := 0
	for _, v := range vials {
		if v.Status == dispense.VialActive {
			active++
		}
	}
	item.Quantity = active
	item.LastUpdated = dispense.Date(at)
	if err := s.Store.SaveItem(ctx, item); err != nil {
		return InventoryItem{}, fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return item, nil
}
