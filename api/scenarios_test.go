/*
scenarios_test.go - Unit tests for demo scenarios and the expiry scheduler

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Items are created with vial-derived quantities
	- Vials are saved ACTIVE with their remaining volume
	- Prescriptions are pending

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/internal/logger"
	"github.com/warp/dispensing-engine/pharmacy"
)

func TestScenario_ClinicDemo(t *testing.T) {
	// GIVEN: Clinic demo scenario
	// WHEN: Loading the scenario
	// THEN: Six items, three insulin vials and two pending prescriptions exist
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.handler.loadClinicDemoScenario(ctx))

	items, err := s.handler.Store.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 6)
	assert.Equal(t, "Paracetamol 500mg", items[0].Name)

	insulin := items[2]
	assert.True(t, insulin.IsLiquid)
	assert.Equal(t, 10.0, insulin.TotalVolumeMl)

	vials, err := s.handler.Store.ListVials(ctx, "3")
	require.NoError(t, err)
	require.Len(t, vials, 3)
	for _, v := range vials {
		assert.Equal(t, dispense.VialActive, v.Status)
	}
	// Quantity of a liquid item is its ACTIVE vial count
	assert.Equal(t, len(vials), insulin.Quantity)

	rxs, err := s.handler.Store.ListPrescriptions(ctx, pharmacy.StatusPending)
	require.NoError(t, err)
	require.Len(t, rxs, 2)
	assert.Equal(t, "rx-1001", rxs[0].ID)
	assert.Equal(t, pharmacy.TargetNursing, rxs[1].Target)
	assert.True(t, rxs[1].IsLiquid())
}

func TestScenario_ExpirySweep(t *testing.T) {
	// GIVEN: Vials relative to the handler clock, two already past expiry
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadExpirySweepScenario(ctx))

	// WHEN: Sweeping as of today
	expired, err := s.handler.Pharmacy.ExpireVials(ctx, testNow)

	// THEN: Only the past-expiry vials are EXPIRED and the count follows
	require.NoError(t, err)
	ids := []string{}
	for _, v := range expired {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"v-201", "v-202"}, ids)

	item, err := s.handler.Pharmacy.GetItem(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	s := newClinicServer(t)
	rec := s.do(http.MethodPost, "/api/prescriptions/rx-1001/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Loading again starts from a clean database
	rec = s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "clinic-demo"})
	require.Equal(t, http.StatusOK, rec.Code)

	rx := decode[PrescriptionDTO](t, s.do(http.MethodGet, "/api/prescriptions/rx-1001", nil))
	assert.Equal(t, "pending", rx.Status)

	current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "clinic-demo", current.ID)
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newClinicServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// The loaded data is left alone
	items := decode[[]ItemDTO](t, s.do(http.MethodGet, "/api/items", nil))
	assert.Len(t, items, 6)
}

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", nil))

	assert.Len(t, list, len(scenarios))

	rec := s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestResetDatabase(t *testing.T) {
	s := newClinicServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	items := decode[[]ItemDTO](t, s.do(http.MethodGet, "/api/items", nil))
	assert.Empty(t, items)
	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

// =============================================================================
// EXPIRY SCHEDULER
// =============================================================================

func TestExpiryScheduler_RunNow(t *testing.T) {
	s := newClinicServer(t)
	es := NewExpiryScheduler(s.handler.Pharmacy, logger.Nop())
	es.Now = func() time.Time { return time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, 1, es.RunNow())
	// Already EXPIRED vials are not counted twice
	assert.Equal(t, 0, es.RunNow())
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	s := newClinicServer(t)
	es := NewExpiryScheduler(s.handler.Pharmacy, logger.Nop())
	es.CheckInterval = time.Hour
	es.Now = func() time.Time { return time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC) }

	es.Start()
	// The first sweep runs immediately on start
	require.Eventually(t, func() bool {
		v, err := s.handler.Store.GetVial(context.Background(), "v-101")
		return err == nil && v != nil && v.Status == dispense.VialExpired
	}, time.Second, 10*time.Millisecond)
	es.Stop()

	// Stop is idempotent
	es.Stop()
}

func TestExpiryScheduler_RestartAfterStop(t *testing.T) {
	// GIVEN: A scheduler that ran once and was stopped
	s := newClinicServer(t)
	es := NewExpiryScheduler(s.handler.Pharmacy, logger.Nop())
	es.CheckInterval = time.Hour
	es.Now = func() time.Time { return time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC) }
	es.Start()
	require.Eventually(t, func() bool {
		v, err := s.handler.Store.GetVial(context.Background(), "v-101")
		return err == nil && v != nil && v.Status == dispense.VialExpired
	}, time.Second, 10*time.Millisecond)
	es.Stop()

	// WHEN: It is started again a month later
	es.Now = func() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) }
	es.Start()
	defer es.Stop()

	// THEN: The restarted loop sweeps and expires v-102
	require.Eventually(t, func() bool {
		v, err := s.handler.Store.GetVial(context.Background(), "v-102")
		return err == nil && v != nil && v.Status == dispense.VialExpired
	}, time.Second, 10*time.Millisecond)
}

func TestExpiryScheduler_Disabled(t *testing.T) {
	s := newClinicServer(t)
	es := NewExpiryScheduler(s.handler.Pharmacy, logger.Nop())
	es.Enabled = false
	es.Now = func() time.Time { return time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC) }

	es.Start()
	es.Stop()

	v, err := s.handler.Store.GetVial(context.Background(), "v-101")
	require.NoError(t, err)
	assert.Equal(t, dispense.VialActive, v.Status)
}
