/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  Structured request logging (zerolog)
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. Metrics:        Prometheus request counter and latency
  5. CORS:           Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/items/*          Inventory items, vials, stock summary
  /api/vials/*          Vial quarantine and audit trail
  /api/dispense/*       Ad-hoc dispense and preview
  /api/prescriptions/*  Prescription workflow
  /api/alerts           Stock alerts
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/dispensing-engine/internal/metrics"
)

// DefaultCORSOrigins are allowed when no origins are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Item routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/vials", h.ListVials)
			r.Post("/{id}/vials", h.ReceiveVial)
			r.Get("/{id}/stock", h.GetStockSummary)
		})

		// Vial routes
		r.Route("/vials", func(r chi.Router) {
			r.Post("/{id}/quarantine", h.QuarantineVial)
			r.Get("/{id}/logs", h.GetVialLogs)
		})

		// Dispense routes
		r.Route("/dispense", func(r chi.Router) {
			r.Post("/", h.Dispense)
			r.Post("/preview", h.PreviewDispense)
		})

		// Prescription routes
		r.Route("/prescriptions", func(r chi.Router) {
			r.Get("/", h.ListPrescriptions)
			r.Post("/", h.CreatePrescription)
			r.Get("/{id}", h.GetPrescription)
			r.Post("/{id}/complete", h.CompletePrescription)
			r.Post("/{id}/cancel", h.CancelPrescription)
			r.Get("/{id}/logs", h.GetPrescriptionLogs)
		})

		r.Get("/alerts", h.ListAlerts)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/expire", h.ExpireVials)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
