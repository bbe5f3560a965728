// Package metrics provides Prometheus metrics for the dispensing engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispenseOutcomesTotal counts allocation outcomes by result
	// ("success", "invalid_input", "insufficient_stock", "invariant_violation").
	DispenseOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispense_outcomes_total",
			Help: "Total number of dispense allocations by outcome",
		},
		[]string{"outcome"},
	)

	// DispensedMillilitresTotal tracks committed volume per medication.
	DispensedMillilitresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispensed_millilitres_total",
			Help: "Total millilitres dispensed and committed",
		},
		[]string{"inventory_item_id"},
	)

	// VialsTouched tracks how many vials a single dispense draws from.
	VialsTouched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispense_vials_touched",
			Help:    "Number of vials touched per successful dispense",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// VialsEmptiedTotal counts vials drained to EMPTY.
	VialsEmptiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vials_emptied_total",
			Help: "Total number of vials drained to EMPTY by dispensing",
		},
	)

	// HTTPRequestTotal tracks HTTP requests by method, route pattern and status code.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)

// Middleware records HTTP metrics labelled with the chi route pattern, so
// /api/vials/v-1 and /api/vials/v-2 share one series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)

		HTTPRequestTotal.WithLabelValues(r.Method, path, code).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
	})
}

// RecordDispense records the outcome of one allocation.
// committedMl and vials are only meaningful for successful, committed dispenses.
func RecordDispense(outcome, itemID string, committedMl float64, vials, emptied int) {
	DispenseOutcomesTotal.WithLabelValues(outcome).Inc()
	if outcome != "success" {
		return
	}
	DispensedMillilitresTotal.WithLabelValues(itemID).Add(committedMl)
	VialsTouched.Observe(float64(vials))
	VialsEmptiedTotal.Add(float64(emptied))
}
