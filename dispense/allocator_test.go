package dispense_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dispensing-engine/dispense"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const insulin = "item-insulin"

var txTime = time.Date(2023, time.October, 26, 9, 30, 0, 0, time.UTC)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ml(f float64) dispense.Volume {
	return dispense.NewVolume(f)
}

func vial(id, expiry string, remaining float64) dispense.Vial {
	return dispense.Vial{
		ID:              id,
		InventoryItemID: insulin,
		BatchNumber:     "B-" + id,
		ExpiryDate:      date(expiry),
		TotalVolume:     ml(10),
		RemainingVolume: ml(remaining),
		Status:          dispense.VialActive,
	}
}

// insulinVials is the three-vial shelf used throughout: a partly used vial
// expiring first, then two full ones.
func insulinVials() []dispense.Vial {
	return []dispense.Vial{
		vial("v-101", "2023-11-01", 1.5),
		vial("v-102", "2023-12-15", 10),
		vial("v-103", "2024-01-20", 10),
	}
}

func sequentialIDs() dispense.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("log-%d", n)
	}
}

func newEngine() *dispense.Engine {
	return &dispense.Engine{NewID: sequentialIDs()}
}

func request(t *testing.T, dose float64, count int, buffer float64) dispense.DispenseRequest {
	t.Helper()
	req, err := dispense.NewDispenseRequest(insulin, "rx-1", dose, count, buffer, txTime)
	require.NoError(t, err)
	return req
}

func byID(vials []dispense.Vial) map[string]dispense.Vial {
	m := make(map[string]dispense.Vial, len(vials))
	for _, v := range vials {
		m[v.ID] = v
	}
	return m
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAllocate_ZeroBuffer_RollsOverFromFirstExpiringVial(t *testing.T) {
	// GIVEN: vials [1.5, 10, 10] by ascending expiry
	// WHEN: 0.5 mL x 10, no buffer (5.00 mL)
	// THEN: 1.5 from v-101 (EMPTY), 3.5 from v-102 (6.5 left), v-103 untouched

	result := newEngine().Allocate(insulinVials(), request(t, 0.5, 10, 0))

	require.True(t, result.Success, result.Message)
	assert.True(t, result.Required.Equal(ml(5)))
	require.Len(t, result.UpdatedVials, 2)
	require.Len(t, result.Logs, 2)

	updated := byID(result.UpdatedVials)
	assert.True(t, updated["v-101"].RemainingVolume.IsZero())
	assert.Equal(t, dispense.VialEmpty, updated["v-101"].Status)
	assert.True(t, updated["v-102"].RemainingVolume.Equal(ml(6.5)))
	assert.Equal(t, dispense.VialActive, updated["v-102"].Status)
	assert.NotContains(t, updated, "v-103")

	assert.Equal(t, "v-101", result.Logs[0].VialID)
	assert.True(t, result.Logs[0].Deducted.Equal(ml(1.5)))
	assert.True(t, result.Logs[0].RemainingAfter.IsZero())
	assert.Equal(t, "v-102", result.Logs[1].VialID)
	assert.True(t, result.Logs[1].Deducted.Equal(ml(3.5)))
	assert.True(t, result.Logs[1].RemainingAfter.Equal(ml(6.5)))

	assert.Equal(t, "Dispensed 5mL successfully across 2 vial(s).", result.Message)
}

func TestAllocate_Buffered_AddsWastageToRequirement(t *testing.T) {
	// GIVEN: the same shelf
	// WHEN: 0.5 mL x 10 + 0.2 mL buffer (5.20 mL)
	// THEN: 1.5 from v-101, 3.7 from v-102 (6.3 left)

	result := newEngine().Allocate(insulinVials(), request(t, 0.5, 10, 0.2))

	require.True(t, result.Success, result.Message)
	assert.True(t, result.Required.Equal(ml(5.2)))

	updated := byID(result.UpdatedVials)
	require.Len(t, updated, 2)
	assert.Equal(t, dispense.VialEmpty, updated["v-101"].Status)
	assert.True(t, updated["v-102"].RemainingVolume.Equal(ml(6.3)))
	assert.True(t, result.Logs[1].Deducted.Equal(ml(3.7)))
}

func TestAllocate_FIFOByExpiry_IgnoresInputOrder(t *testing.T) {
	// GIVEN: vials supplied latest-expiry first
	// WHEN: requesting 2.0 mL
	// THEN: A (earliest) drained 1.5, B gives 0.5, C untouched

	vials := []dispense.Vial{
		vial("C", "2024-01-20", 10),
		vial("B", "2023-12-15", 10),
		vial("A", "2023-11-01", 1.5),
	}

	result := newEngine().Allocate(vials, request(t, 2.0, 1, 0))

	require.True(t, result.Success)
	require.Len(t, result.Logs, 2)
	assert.Equal(t, "A", result.Logs[0].VialID)
	assert.True(t, result.Logs[0].Deducted.Equal(ml(1.5)))
	assert.Equal(t, "B", result.Logs[1].VialID)
	assert.True(t, result.Logs[1].Deducted.Equal(ml(0.5)))
	assert.NotContains(t, byID(result.UpdatedVials), "C")
}

func TestAllocate_ExactFit_DrainsToEmpty(t *testing.T) {
	// GIVEN: one vial with exactly 3.3 mL left
	// WHEN: requesting 1.1 mL x 3 (float math would give 3.3000000000000003)
	// THEN: vial ends at 0 and EMPTY, not ACTIVE-with-zero

	vials := []dispense.Vial{vial("v-1", "2024-01-01", 3.3)}

	result := newEngine().Allocate(vials, request(t, 1.1, 3, 0))

	require.True(t, result.Success, result.Message)
	require.Len(t, result.UpdatedVials, 1)
	assert.True(t, result.UpdatedVials[0].RemainingVolume.IsZero())
	assert.Equal(t, dispense.VialEmpty, result.UpdatedVials[0].Status)
	assert.True(t, result.Logs[0].Deducted.Equal(ml(3.3)))
}

func TestAllocate_ZeroRequirement_TouchesNothing(t *testing.T) {
	// GIVEN: a dose so small the total rounds to 0.00 mL
	// WHEN: allocating, even with no stock at all
	// THEN: success, no vials touched, no logs

	req := request(t, 0.001, 1, 0)
	require.True(t, req.RequiredVolume().IsZero())

	for name, vials := range map[string][]dispense.Vial{
		"with stock":    insulinVials(),
		"without stock": nil,
	} {
		t.Run(name, func(t *testing.T) {
			result := newEngine().Allocate(vials, req)
			assert.True(t, result.Success)
			assert.Empty(t, result.UpdatedVials)
			assert.Empty(t, result.Logs)
			assert.Equal(t, "Dispensed 0mL successfully across 0 vial(s).", result.Message)
		})
	}
}

func TestAllocate_Insufficient_NoMutation(t *testing.T) {
	// GIVEN: 21.5 mL eligible in total
	// WHEN: requesting 50 mL
	// THEN: failure naming both quantities, no updates, no logs, inputs unchanged

	vials := insulinVials()
	before := insulinVials()

	result := newEngine().Allocate(vials, request(t, 5, 10, 0))

	assert.False(t, result.Success)
	assert.Equal(t, dispense.FailureInsufficient, result.Kind)
	assert.ErrorIs(t, result.Err, dispense.ErrInsufficientVolume)
	assert.Contains(t, result.Message, "50")
	assert.Contains(t, result.Message, "21.5")
	assert.Empty(t, result.UpdatedVials)
	assert.Empty(t, result.Logs)
	assert.Equal(t, before, vials)

	var insufficient *dispense.InsufficientVolumeError
	require.True(t, errors.As(result.Err, &insufficient))
	assert.True(t, insufficient.Shortfall().Equal(ml(28.5)))
}

func TestAllocate_NoEligibleVials_IsInsufficient(t *testing.T) {
	// GIVEN: vials that are all ineligible (wrong item, empty, expired, quarantined)
	// WHEN: requesting any positive volume
	// THEN: insufficient with 0 available

	other := vial("other", "2023-10-01", 10)
	other.InventoryItemID = "item-other"
	empty := vial("empty", "2023-10-01", 0)
	empty.Status = dispense.VialEmpty
	expired := vial("expired", "2023-10-01", 10)
	expired.Status = dispense.VialExpired
	quarantined := vial("quarantined", "2023-10-01", 10)
	quarantined.Status = dispense.VialQuarantined

	result := newEngine().Allocate([]dispense.Vial{other, empty, expired, quarantined}, request(t, 1, 1, 0))

	assert.False(t, result.Success)
	assert.True(t, result.Available.IsZero())
	assert.Contains(t, result.Message, "Available: 0mL")
}

func TestAllocate_DoesNotMutateCallerVials(t *testing.T) {
	vials := insulinVials()
	before := insulinVials()

	result := newEngine().Allocate(vials, request(t, 0.5, 10, 0))

	require.True(t, result.Success)
	assert.Equal(t, before, vials)
}

func TestAllocate_InvalidRequest(t *testing.T) {
	valid := request(t, 0.5, 10, 0)

	tests := []struct {
		name   string
		mutate func(*dispense.DispenseRequest)
		field  string
	}{
		{"zero dose", func(r *dispense.DispenseRequest) { r.DosePerAdministration = ml(0).Value }, "dose_per_administration_ml"},
		{"negative dose", func(r *dispense.DispenseRequest) { r.DosePerAdministration = ml(-1).Value }, "dose_per_administration_ml"},
		{"zero count", func(r *dispense.DispenseRequest) { r.AdministrationCount = 0 }, "administration_count"},
		{"negative buffer", func(r *dispense.DispenseRequest) { r.Buffer = ml(-0.1).Value }, "buffer_ml"},
		{"missing item", func(r *dispense.DispenseRequest) { r.InventoryItemID = "" }, "inventory_item_id"},
		{"missing prescription", func(r *dispense.DispenseRequest) { r.PrescriptionID = " " }, "prescription_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			result := newEngine().Allocate(insulinVials(), req)

			assert.False(t, result.Success)
			assert.Equal(t, dispense.FailureInvalidInput, result.Kind)
			assert.ErrorIs(t, result.Err, dispense.ErrInvalidRequest)
			assert.NotErrorIs(t, result.Err, dispense.ErrInsufficientVolume)
			assert.Empty(t, result.UpdatedVials)
			assert.Empty(t, result.Logs)

			var reqErr *dispense.RequestError
			require.True(t, errors.As(result.Err, &reqErr))
			assert.Equal(t, tt.field, reqErr.Field)
		})
	}
}

func TestAllocate_LogsCarryPrescriptionAndTimestamp(t *testing.T) {
	result := newEngine().Allocate(insulinVials(), request(t, 0.5, 10, 0))

	require.True(t, result.Success)
	for i, l := range result.Logs {
		assert.Equal(t, fmt.Sprintf("log-%d", i+1), l.ID)
		assert.Equal(t, "rx-1", l.PrescriptionID)
		assert.Equal(t, txTime, l.Timestamp)
		assert.True(t, l.Deducted.IsPositive())
	}
}

func TestAllocate_DefaultIDsAreUnique(t *testing.T) {
	result := dispense.NewEngine().Allocate(insulinVials(), request(t, 0.5, 10, 0))

	require.True(t, result.Success)
	require.Len(t, result.Logs, 2)
	assert.NotEqual(t, result.Logs[0].ID, result.Logs[1].ID)
	assert.Contains(t, result.Logs[0].ID, "log-")
}

func TestAllocate_ConvenienceSignature(t *testing.T) {
	result := dispense.Allocate(insulinVials(), insulin, "rx-9", 0.5, 10, 0.2)
	require.True(t, result.Success)
	assert.True(t, result.TotalDeducted().Equal(ml(5.2)))

	bad := dispense.Allocate(insulinVials(), insulin, "rx-9", -1, 10, 0)
	assert.False(t, bad.Success)
	assert.Equal(t, dispense.FailureInvalidInput, bad.Kind)
}

func TestAllocate_ExcludePastExpiryPolicy(t *testing.T) {
	// GIVEN: the engine configured to skip vials past their expiry date
	// WHEN: dispensing on 2023-11-15 (v-101 expired 2023-11-01)
	// THEN: v-101 is skipped and v-102 supplies everything

	engine := &dispense.Engine{NewID: sequentialIDs(), Policy: dispense.SelectionPolicy{ExcludePastExpiry: true}}
	req, err := dispense.NewDispenseRequest(insulin, "rx-1", 0.5, 10, 0, date("2023-11-15"))
	require.NoError(t, err)

	result := engine.Allocate(insulinVials(), req)

	require.True(t, result.Success)
	require.Len(t, result.Logs, 1)
	assert.Equal(t, "v-102", result.Logs[0].VialID)
	assert.True(t, result.Logs[0].RemainingAfter.Equal(ml(5)))
}

func TestInvariantError(t *testing.T) {
	err := &dispense.InvariantError{PrescriptionID: "rx-1", Undrawn: ml(0.5)}

	assert.ErrorIs(t, err, dispense.ErrAllocationInvariant)
	assert.Equal(t, dispense.FailureInvariant, dispense.KindOf(err))
	assert.False(t, dispense.IsClientError(err))
	assert.Contains(t, err.Error(), "0.5mL undrawn")
}
