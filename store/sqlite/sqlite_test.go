package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/pharmacy"
	"github.com/warp/dispensing-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func vial(id, item, expiry string, remaining float64) dispense.Vial {
	return dispense.Vial{
		ID:              id,
		InventoryItemID: item,
		BatchNumber:     "B-" + id,
		ExpiryDate:      date(expiry),
		TotalVolume:     dispense.NewVolume(10),
		RemainingVolume: dispense.NewVolume(remaining),
		Status:          dispense.VialActive,
	}
}

func seedInsulin(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	for _, v := range []dispense.Vial{
		vial("v-101", "3", "2023-11-01", 1.5),
		vial("v-102", "3", "2023-12-15", 10),
		vial("v-103", "3", "2024-01-20", 10),
	} {
		require.NoError(t, s.SaveVial(ctx, v))
	}
}

// =============================================================================
// VIALS
// =============================================================================

func TestVials_SaveGetList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// received out of expiry order; the store keeps receipt order
	require.NoError(t, s.SaveVial(ctx, vial("late", "3", "2024-06-01", 10)))
	require.NoError(t, s.SaveVial(ctx, vial("early", "3", "2023-11-01", 2.25)))
	require.NoError(t, s.SaveVial(ctx, vial("other", "9", "2023-11-01", 5)))

	err := s.SaveVial(ctx, vial("late", "3", "2024-06-01", 10))
	assert.ErrorIs(t, err, dispense.ErrDuplicateVial)

	vials, err := s.ListVials(ctx, "3")
	require.NoError(t, err)
	require.Len(t, vials, 2)
	assert.Equal(t, "late", vials[0].ID)
	assert.Equal(t, "early", vials[1].ID)

	early := vials[1]
	assert.Equal(t, "2.25", early.RemainingVolume.String())
	assert.Equal(t, "10", early.TotalVolume.String())
	assert.True(t, early.ExpiryDate.Equal(date("2023-11-01")))
	assert.Equal(t, dispense.VialActive, early.Status)
	assert.Equal(t, "B-early", early.BatchNumber)

	all, err := s.ListVials(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := s.GetVial(ctx, "other")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "9", got.InventoryItemID)

	missing, err := s.GetVial(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	none, err := s.ListVials(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestVials_UpdateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedInsulin(t, s)

	drained := vial("v-101", "3", "2023-11-01", 0)
	drained.Status = dispense.VialEmpty

	err := s.UpdateVials(ctx, []dispense.Vial{drained, vial("ghost", "3", "2023-11-01", 1)})
	require.ErrorIs(t, err, dispense.ErrVialNotFound)

	v, _ := s.GetVial(ctx, "v-101")
	assert.Equal(t, "1.5", v.RemainingVolume.String(), "first update rolled back")

	require.NoError(t, s.UpdateVials(ctx, []dispense.Vial{drained}))
	v, _ = s.GetVial(ctx, "v-101")
	assert.Equal(t, "0", v.RemainingVolume.String())
	assert.Equal(t, dispense.VialEmpty, v.Status)
}

// =============================================================================
// LOGS
// =============================================================================

func TestLogs_UniquePerPrescriptionAndVial(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	at := time.Date(2023, 10, 26, 9, 30, 0, 0, time.UTC)

	first := dispense.DispenseLog{ID: "l1", PrescriptionID: "rx-1", VialID: "v-101",
		Deducted: dispense.NewVolume(1.5), RemainingAfter: dispense.ZeroVolume, Timestamp: at}
	second := dispense.DispenseLog{ID: "l2", PrescriptionID: "rx-1", VialID: "v-102",
		Deducted: dispense.NewVolume(3.5), RemainingAfter: dispense.NewVolume(6.5), Timestamp: at}
	require.NoError(t, s.AppendLogs(ctx, []dispense.DispenseLog{first, second}))

	other := dispense.DispenseLog{ID: "l3", PrescriptionID: "rx-2", VialID: "v-102",
		Deducted: dispense.NewVolume(1), RemainingAfter: dispense.NewVolume(5.5), Timestamp: at}
	dup := dispense.DispenseLog{ID: "l4", PrescriptionID: "rx-1", VialID: "v-101",
		Deducted: dispense.NewVolume(1), RemainingAfter: dispense.ZeroVolume, Timestamp: at}
	err := s.AppendLogs(ctx, []dispense.DispenseLog{other, dup})
	require.ErrorIs(t, err, dispense.ErrDuplicateDispense)

	byVial, err := s.LogsByVial(ctx, "v-102")
	require.NoError(t, err)
	require.Len(t, byVial, 1, "rx-2 log rolled back with its batch")

	logs, err := s.LogsByPrescription(ctx, "rx-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "l1", logs[0].ID)
	assert.Equal(t, "1.5", logs[0].Deducted.String())
	assert.Equal(t, "6.5", logs[1].RemainingAfter.String())
	assert.True(t, logs[0].Timestamp.Equal(at))
}

func TestLogs_OrderedBySubSecondTimestamp(t *testing.T) {
	// GIVEN: A log at 09:30:05.5 stored before a log at 09:30:05
	ctx := context.Background()
	s := newStore(t)
	whole := time.Date(2023, 10, 26, 9, 30, 5, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)

	require.NoError(t, s.AppendLogs(ctx, []dispense.DispenseLog{{ID: "l-late", PrescriptionID: "rx-1", VialID: "v-102",
		Deducted: dispense.NewVolume(1), RemainingAfter: dispense.NewVolume(9), Timestamp: half}}))
	require.NoError(t, s.AppendLogs(ctx, []dispense.DispenseLog{{ID: "l-early", PrescriptionID: "rx-1", VialID: "v-101",
		Deducted: dispense.NewVolume(1.5), RemainingAfter: dispense.ZeroVolume, Timestamp: whole}}))

	// WHEN: Reading them back
	logs, err := s.LogsByPrescription(ctx, "rx-1")

	// THEN: They come back in time order with their exact timestamps
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "l-early", logs[0].ID)
	assert.Equal(t, "l-late", logs[1].ID)
	assert.True(t, logs[0].Timestamp.Equal(whole))
	assert.True(t, logs[1].Timestamp.Equal(half))
}

func TestLogs_CorruptTimestampIsAnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendLogs(ctx, []dispense.DispenseLog{{ID: "l1", PrescriptionID: "rx-1", VialID: "v-101",
		Deducted: dispense.NewVolume(1), RemainingAfter: dispense.ZeroVolume, Timestamp: time.Now()}}))
	require.NoError(t, s.Exec(ctx, "UPDATE dispense_logs SET timestamp = 'yesterday' WHERE id = 'l1'"))

	_, err := s.LogsByPrescription(ctx, "rx-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "l1")

	_, err = s.LogsByVial(ctx, "v-101")
	assert.Error(t, err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedInsulin(t, s)

	errAbort := errors.New("abort")
	err := s.WithTx(ctx, func(tx dispense.Store) error {
		v, err := tx.GetVial(ctx, "v-102")
		if err != nil {
			return err
		}
		v.RemainingVolume = dispense.NewVolume(1)
		if err := tx.UpdateVials(ctx, []dispense.Vial{*v}); err != nil {
			return err
		}
		if err := tx.AppendLogs(ctx, []dispense.DispenseLog{{ID: "l1", PrescriptionID: "rx-1", VialID: "v-102"}}); err != nil {
			return err
		}

		// reads inside the transaction see its own writes
		inside, err := tx.ListVials(ctx, "3")
		if err != nil {
			return err
		}
		assert.Equal(t, "1", inside[1].RemainingVolume.String())
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	v, _ := s.GetVial(ctx, "v-102")
	assert.Equal(t, "10", v.RemainingVolume.String())
	logs, _ := s.LogsByPrescription(ctx, "rx-1")
	assert.Empty(t, logs)
}

func TestDispenser_OnSQLite(t *testing.T) {
	// GIVEN: the three-vial insulin shelf in SQLite
	// WHEN: dispensing 0.5 mL x 10 through the Dispenser
	// THEN: v-101 EMPTY, v-102 at 6.5, two logs persisted

	ctx := context.Background()
	s := newStore(t)
	seedInsulin(t, s)
	d := dispense.NewDispenser(s, nil, zerolog.Nop())

	req, err := dispense.NewDispenseRequest("3", "rx-1", 0.5, 10, 0, time.Now().UTC())
	require.NoError(t, err)

	result, err := d.Dispense(ctx, req)
	require.NoError(t, err)
	require.True(t, result.Success)

	v101, _ := s.GetVial(ctx, "v-101")
	assert.Equal(t, dispense.VialEmpty, v101.Status)
	v102, _ := s.GetVial(ctx, "v-102")
	assert.Equal(t, "6.5", v102.RemainingVolume.String())

	logs, _ := s.LogsByPrescription(ctx, "rx-1")
	assert.Len(t, logs, 2)

	// same prescription again touches v-102 again: rejected, nothing changes
	again, err := dispense.NewDispenseRequest("3", "rx-1", 0.5, 2, 0, time.Now().UTC())
	require.NoError(t, err)
	_, err = d.Dispense(ctx, again)
	require.ErrorIs(t, err, dispense.ErrDuplicateDispense)

	v102, _ = s.GetVial(ctx, "v-102")
	assert.Equal(t, "6.5", v102.RemainingVolume.String())
}

// =============================================================================
// ITEMS AND PRESCRIPTIONS
// =============================================================================

func TestItems_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	item := pharmacy.InventoryItem{
		ID: "3", Name: "Insulin Glargine", Category: pharmacy.CategoryPharmaceuticals,
		BatchNumber: "INS-99", Quantity: 12, MinLevel: 20, Unit: "vials",
		ExpiryDate: date("2023-11-10"), Location: "Fridge 2", Supplier: "BioLife",
		LastUpdated: date("2023-10-26"), IsLiquid: true, TotalVolumeMl: 10,
	}
	require.NoError(t, s.SaveItem(ctx, item))
	require.NoError(t, s.SaveItem(ctx, pharmacy.InventoryItem{ID: "4", Name: "Sterile Gloves (L)", Quantity: 200}))

	got, err := s.GetItem(ctx, "3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item, *got)

	item.Quantity = 2
	require.NoError(t, s.SaveItem(ctx, item))
	got, _ = s.GetItem(ctx, "3")
	assert.Equal(t, 2, got.Quantity)

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "3", items[0].ID, "upsert keeps position")
	assert.True(t, items[1].ExpiryDate.IsZero())

	missing, err := s.GetItem(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPrescriptions_RoundTripAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created := time.Date(2023, 10, 27, 10, 15, 0, 0, time.UTC)

	liquid := pharmacy.Prescription{
		ID: "rx-1002", PatientName: "Robert Smith", PatientAge: 62,
		MedicationID: "3", MedicationName: "Insulin Glargine", Dosage: "0.5mL x 10 shots",
		DoseAmountMl: 0.5, TotalShots: 10, BufferMl: 0.2,
		Frequency: "Once daily at bedtime", Notes: "Monitor glucose levels",
		Target: pharmacy.TargetNursing, Status: pharmacy.StatusPending,
		DoctorName: "Dr. Sarah Cole", CreatedAt: created,
	}
	unit := pharmacy.Prescription{
		ID: "rx-1001", PatientName: "Alice Johnson", MedicationID: "1", DispenseQty: 2,
		Target: pharmacy.TargetPharmacy, Status: pharmacy.StatusPending, CreatedAt: created,
	}
	require.NoError(t, s.SavePrescription(ctx, liquid))
	require.NoError(t, s.SavePrescription(ctx, unit))

	got, err := s.GetPrescription(ctx, "rx-1002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, liquid, *got)

	completedAt := created.Add(time.Hour)
	unit.Status = pharmacy.StatusCompleted
	unit.CompletedAt = &completedAt
	require.NoError(t, s.SavePrescription(ctx, unit))

	pending, err := s.ListPrescriptions(ctx, pharmacy.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "rx-1002", pending[0].ID)

	done, err := s.ListPrescriptions(ctx, pharmacy.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.NotNil(t, done[0].CompletedAt)
	assert.True(t, done[0].CompletedAt.Equal(completedAt))

	all, _ := s.ListPrescriptions(ctx, "")
	assert.Len(t, all, 2)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedInsulin(t, s)
	require.NoError(t, s.SaveItem(ctx, pharmacy.InventoryItem{ID: "3", Name: "Insulin"}))

	require.NoError(t, s.Reset(ctx))

	vials, _ := s.ListVials(ctx, "")
	assert.Empty(t, vials)
	items, _ := s.ListItems(ctx)
	assert.Empty(t, items)
}

func TestPrescriptions_CorruptTimestampIsAnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	completed := time.Date(2023, 10, 27, 11, 0, 0, 0, time.UTC)
	require.NoError(t, s.SavePrescription(ctx, pharmacy.Prescription{
		ID: "rx-1001", PatientName: "Alice Johnson", MedicationID: "1", DispenseQty: 2,
		Target: pharmacy.TargetPharmacy, Status: pharmacy.StatusCompleted,
		CreatedAt: completed.Add(-time.Hour), CompletedAt: &completed,
	}))

	require.NoError(t, s.Exec(ctx, "UPDATE prescriptions SET completed_at = '27/10/2023' WHERE id = 'rx-1001'"))
	_, err := s.GetPrescription(ctx, "rx-1001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed_at")

	require.NoError(t, s.Exec(ctx, "UPDATE prescriptions SET completed_at = NULL, created_at = '' WHERE id = 'rx-1001'"))
	_, err = s.ListPrescriptions(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
}
