/*
service.go - Serialized allocate + commit

PURPOSE:
  The engine is pure; something has to turn its Result into durable state
  without letting two requests for the same medication both pass validation
  against the same pre-deduction totals. The Dispenser does that:

    1. Lock the medication (KeyLocker)
    2. Snapshot its vials from the Store
    3. Engine.Allocate on the snapshot
    4. On success, UpdateVials + AppendLogs inside one WithTx
    5. Unlock

  Failures from step 3 come back as a Result with Success=false and no
  error; the returned error is reserved for store failures.

SEE ALSO:
  - allocator.go: The allocation itself
  - store.go: TxStore contract
  - pharmacy/service.go: Prescription workflow built on top
*/
package dispense

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/dispensing-engine/internal/metrics"
)

// Dispenser commits engine results against a transactional store.
type Dispenser struct {
	Store  TxStore
	Engine *Engine
	Logger zerolog.Logger

	locks *KeyLocker
}

func NewDispenser(store TxStore, engine *Engine, logger zerolog.Logger) *Dispenser {
	if engine == nil {
		engine = NewEngine()
	}
	return &Dispenser{
		Store:  store,
		Engine: engine,
		Logger: logger.With().Str("component", "dispenser").Logger(),
		locks:  NewKeyLocker(),
	}
}

// Lock serializes work on one medication. Callers that need to read or write
// related state around a dispense (e.g. resyncing an item's quantity) hold it
// and call DispenseLocked.
func (d *Dispenser) Lock(itemID string) func() {
	return d.locks.Lock(itemID)
}

// Dispense allocates and commits req.
func (d *Dispenser) Dispense(ctx context.Context, req DispenseRequest) (Result, error) {
	unlock := d.Lock(req.InventoryItemID)
	defer unlock()
	return d.DispenseLocked(ctx, req)
}

// DispenseLocked is Dispense for callers already holding Lock(req.InventoryItemID).
func (d *Dispenser) DispenseLocked(ctx context.Context, req DispenseRequest) (Result, error) {
	log := d.Logger.With().
		Str("inventory_item_id", req.InventoryItemID).
		Str("prescription_id", req.PrescriptionID).
		Logger()

	result, err := d.allocate(ctx, req)
	if err != nil {
		return result, err
	}
	if !result.Success {
		metrics.RecordDispense(string(result.Kind), req.InventoryItemID, 0, 0, 0)
		if result.Kind == FailureInvariant {
			log.Error().Err(result.Err).Msg("allocation invariant violated")
		} else {
			log.Warn().Err(result.Err).Str("kind", string(result.Kind)).Msg("dispense rejected")
		}
		return result, nil
	}

	if len(result.UpdatedVials) > 0 {
		err = d.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateVials(ctx, result.UpdatedVials); err != nil {
				return err
			}
			return s.AppendLogs(ctx, result.Logs)
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to commit dispense")
			return Result{}, fmt.Errorf("commit dispense for prescription %s: %w", req.PrescriptionID, err)
		}
	}

	emptied := 0
	for _, v := range result.UpdatedVials {
		if v.Status == VialEmpty {
			emptied++
		}
	}
	metrics.RecordDispense("success", req.InventoryItemID, result.Required.Float64(), len(result.UpdatedVials), emptied)

	log.Info().
		Str("dispensed_ml", result.Required.String()).
		Int("vials", len(result.UpdatedVials)).
		Int("emptied", emptied).
		Msg("dispense committed")

	return result, nil
}

// Preview runs the allocation against current stock without committing it.
func (d *Dispenser) Preview(ctx context.Context, req DispenseRequest) (Result, error) {
	unlock := d.Lock(req.InventoryItemID)
	defer unlock()
	return d.allocate(ctx, req)
}

func (d *Dispenser) allocate(ctx context.Context, req DispenseRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return d.Engine.Allocate(nil, req), nil
	}
	vials, err := d.Store.ListVials(ctx, req.InventoryItemID)
	if err != nil {
		return Result{}, fmt.Errorf("load vials for %s: %w", req.InventoryItemID, err)
	}
	return d.Engine.Allocate(vials, req), nil
}
