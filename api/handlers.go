/*
handlers.go - HTTP API handlers for the dispensing service

PURPOSE:
  Exposes the dispensing engine and the prescription workflow via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  dispense and pharmacy packages.

ENDPOINTS:
  Items:
    GET    /api/items                     List items with stock status
    POST   /api/items                     Register item
    GET    /api/items/{id}                Get item
    GET    /api/items/{id}/vials          List an item's vials
    POST   /api/items/{id}/vials          Receive a vial
    GET    /api/items/{id}/stock          Vial stock summary

  Vials:
    POST   /api/vials/{id}/quarantine     Pull a vial from circulation
    GET    /api/vials/{id}/logs           Deductions from one vial

  Dispense:
    POST   /api/dispense                  Allocate and commit
    POST   /api/dispense/preview          Allocate without committing

  Prescriptions:
    GET    /api/prescriptions             List (?status=pending)
    POST   /api/prescriptions             Create
    GET    /api/prescriptions/{id}        Get
    POST   /api/prescriptions/{id}/complete
    POST   /api/prescriptions/{id}/cancel
    GET    /api/prescriptions/{id}/logs   Deductions for one prescription

  Alerts and admin:
    GET    /api/alerts                    Low stock / expiry (?dismissed=a,b)
    POST   /api/admin/expire              Mark past-expiry vials EXPIRED

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: Item, vial or prescription not found
  - 409: Conflict (not pending, duplicate dispense, bad vial transition,
         item or prescription ID already taken)
  - 422: Insufficient volume or stock
  - 500: Internal errors
  A failed dispense returns its DispenseResultDTO as the body so the
  operator-facing message is never lost.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/pharmacy"
	"github.com/warp/dispensing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tune the handler's domain behaviour.
type Options struct {
	// ExpiryWarningDays is the look-ahead for expiring-soon alerts.
	ExpiryWarningDays int

	// Policy is passed to the dispensing engine.
	Policy dispense.SelectionPolicy
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Dispenser *dispense.Dispenser
	Pharmacy  *pharmacy.Service
	Logger    zerolog.Logger

	ExpiryWarningDays int

	// Now is the clock; tests pin it.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine, dispenser and pharmacy service over store.
func NewHandler(store *sqlite.Store, logger zerolog.Logger, opts Options) *Handler {
	engine := dispense.NewEngine()
	engine.Policy = opts.Policy

	if opts.ExpiryWarningDays <= 0 {
		opts.ExpiryWarningDays = pharmacy.DefaultExpiryWarningDays
	}

	dispenser := dispense.NewDispenser(store, engine, logger)
	return &Handler{
		Store:             store,
		Dispenser:         dispenser,
		Pharmacy:          pharmacy.NewService(store, dispenser, logger),
		Logger:            logger.With().Str("component", "api").Logger(),
		ExpiryWarningDays: opts.ExpiryWarningDays,
		Now:               func() time.Time { return time.Now().UTC() },
	}
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems returns all items with their stock status.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Pharmacy.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}

	now := h.Now()
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetItem returns a single item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Pharmacy.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item, h.Now()))
}

// CreateItem registers a new item.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	item := pharmacy.InventoryItem{
		ID:            req.ID,
		Name:          req.Name,
		Category:      pharmacy.Category(req.Category),
		BatchNumber:   req.BatchNumber,
		Quantity:      req.Quantity,
		MinLevel:      req.MinLevel,
		Unit:          req.Unit,
		Location:      req.Location,
		Supplier:      req.Supplier,
		IsLiquid:      req.IsLiquid,
		TotalVolumeMl: req.TotalVolumeMl,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse(time.DateOnly, req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
			return
		}
		item.ExpiryDate = expiry
	}

	now := h.Now()
	created, err := h.Pharmacy.CreateItem(r.Context(), item, now)
	if err != nil {
		h.writeDomainError(w, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(created, now))
}

// ListVials returns an item's vials in receipt order.
func (h *Handler) ListVials(w http.ResponseWriter, r *http.Request) {
	vials, err := h.Pharmacy.ListVials(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list vials", err)
		return
	}
	writeJSON(w, http.StatusOK, toVialDTOs(vials))
}

// ReceiveVial adds a full vial to a liquid item.
func (h *Handler) ReceiveVial(w http.ResponseWriter, r *http.Request) {
	var req ReceiveVialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	expiry, err := time.Parse(time.DateOnly, req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
		return
	}

	v, err := h.Pharmacy.ReceiveVial(r.Context(), pharmacy.VialReceipt{
		ID:            req.ID,
		ItemID:        chi.URLParam(r, "id"),
		BatchNumber:   req.BatchNumber,
		ExpiryDate:    expiry,
		TotalVolumeMl: req.TotalVolumeMl,
	}, h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to receive vial", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVialDTO(v))
}

// GetStockSummary returns vial counts and remaining volume.
func (h *Handler) GetStockSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Pharmacy.StockSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to summarize stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// =============================================================================
// VIAL HANDLERS
// =============================================================================

// QuarantineVial marks an ACTIVE vial QUARANTINED.
func (h *Handler) QuarantineVial(w http.ResponseWriter, r *http.Request) {
	v, err := h.Pharmacy.QuarantineVial(r.Context(), chi.URLParam(r, "id"), h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to quarantine vial", err)
		return
	}
	writeJSON(w, http.StatusOK, toVialDTO(v))
}

// GetVialLogs returns the deductions recorded against one vial.
func (h *Handler) GetVialLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.Store.GetVial(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get vial", err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Vial not found", nil)
		return
	}

	logs, err := h.Store.LogsByVial(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get logs", err)
		return
	}
	writeJSON(w, http.StatusOK, toLogDTOs(logs))
}

// =============================================================================
// DISPENSE HANDLERS
// =============================================================================

// Dispense allocates across vials and commits the result.
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	h.dispense(w, r, h.Pharmacy.Dispense)
}

// PreviewDispense runs the allocation without committing it.
func (h *Handler) PreviewDispense(w http.ResponseWriter, r *http.Request) {
	h.dispense(w, r, h.Dispenser.Preview)
}

func (h *Handler) dispense(w http.ResponseWriter, r *http.Request, run func(context.Context, dispense.DispenseRequest) (dispense.Result, error)) {
	var dto DispenseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Built as a literal so an invalid request still yields a Result body.
	req := dispense.DispenseRequest{
		InventoryItemID:       dto.InventoryItemID,
		PrescriptionID:        dto.PrescriptionID,
		DosePerAdministration: decimal.NewFromFloat(dto.DosePerAdministration),
		AdministrationCount:   dto.AdministrationCount,
		Buffer:                decimal.NewFromFloat(dto.BufferMl),
		At:                    h.Now(),
	}
	if req.Validate() == nil {
		item, err := h.Pharmacy.GetItem(r.Context(), req.InventoryItemID)
		if err != nil {
			h.writeDomainError(w, "Failed to get item", err)
			return
		}
		if !item.IsLiquid {
			writeError(w, http.StatusBadRequest, "Item is not tracked by vial", pharmacy.ErrNotLiquid)
			return
		}
	}

	result, err := run(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to dispense", err)
		return
	}
	writeJSON(w, statusForResult(result), toResultDTO(result))
}

// =============================================================================
// PRESCRIPTION HANDLERS
// =============================================================================

// ListPrescriptions returns prescriptions, optionally filtered by status.
func (h *Handler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	status := pharmacy.PrescriptionStatus(r.URL.Query().Get("status"))
	rxs, err := h.Pharmacy.ListPrescriptions(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list prescriptions", err)
		return
	}

	dtos := make([]PrescriptionDTO, len(rxs))
	for i, rx := range rxs {
		dtos[i] = toPrescriptionDTO(rx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePrescription records a new pending prescription.
func (h *Handler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req CreatePrescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rx, err := h.Pharmacy.CreatePrescription(r.Context(), pharmacy.Prescription{
		ID:           req.ID,
		PatientName:  req.PatientName,
		PatientAge:   req.PatientAge,
		MedicationID: req.MedicationID,
		Dosage:       req.Dosage,
		DoseAmountMl: req.DoseAmountMl,
		TotalShots:   req.TotalShots,
		BufferMl:     req.BufferMl,
		DispenseQty:  req.DispenseQty,
		Frequency:    req.Frequency,
		Notes:        req.Notes,
		Target:       pharmacy.Target(req.Target),
		DoctorName:   req.DoctorName,
	}, h.Now())
	if err != nil {
		h.writeDomainError(w, "Failed to create prescription", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrescriptionDTO(rx))
}

// GetPrescription returns a single prescription.
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	rx, err := h.Pharmacy.GetPrescription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get prescription", err)
		return
	}
	writeJSON(w, http.StatusOK, toPrescriptionDTO(rx))
}

// CompletePrescription dispenses the medication and marks the prescription
// completed. On a refused dispense the prescription stays pending.
func (h *Handler) CompletePrescription(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	c, err := h.Pharmacy.CompletePrescription(r.Context(), chi.URLParam(r, "id"), now)
	if err != nil {
		var failed *pharmacy.DispenseFailedError
		if errors.As(err, &failed) {
			writeJSON(w, statusForResult(failed.Result), ErrorResponse{
				Error:   failed.Result.Message,
				Details: string(failed.Result.Kind),
			})
			return
		}
		h.writeDomainError(w, "Failed to complete prescription", err)
		return
	}

	dto := CompletionDTO{
		Prescription: toPrescriptionDTO(c.Prescription),
		Item:         toItemDTO(c.Item, now),
		Message:      "Prescription fulfilled",
	}
	if c.Dispense != nil {
		res := toResultDTO(*c.Dispense)
		dto.Dispense = &res
		dto.Message = c.Dispense.Message
	}
	writeJSON(w, http.StatusOK, dto)
}

// CancelPrescription cancels a pending prescription.
func (h *Handler) CancelPrescription(w http.ResponseWriter, r *http.Request) {
	rx, err := h.Pharmacy.CancelPrescription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to cancel prescription", err)
		return
	}
	writeJSON(w, http.StatusOK, toPrescriptionDTO(rx))
}

// GetPrescriptionLogs returns the deductions recorded for a prescription.
func (h *Handler) GetPrescriptionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Pharmacy.PrescriptionLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get logs", err)
		return
	}
	writeJSON(w, http.StatusOK, toLogDTOs(logs))
}

// =============================================================================
// ALERT AND ADMIN HANDLERS
// =============================================================================

// ListAlerts returns low-stock and expiry alerts.
// Query params: dismissed (comma separated alert IDs), days (warning window).
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	warnDays := h.ExpiryWarningDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		warnDays = days
	}

	dismissed := make(map[string]bool)
	for _, id := range strings.Split(r.URL.Query().Get("dismissed"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			dismissed[id] = true
		}
	}

	alerts, err := h.Pharmacy.Alerts(r.Context(), h.Now(), warnDays, dismissed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTOs(alerts))
}

// ExpireRequest is the optional body of POST /api/admin/expire.
type ExpireRequest struct {
	AsOf string `json:"as_of"` // YYYY-MM-DD, defaults to today
}

// ExpireVials marks ACTIVE vials past their expiry date EXPIRED.
func (h *Handler) ExpireVials(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf := h.Now()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	expired, err := h.Pharmacy.ExpireVials(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to expire vials", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expired": toVialDTOs(expired),
		"count":   len(expired),
	})
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case pharmacy.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, dispense.ErrInsufficientVolume),
		errors.Is(err, pharmacy.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pharmacy.ErrPrescriptionNotPending),
		errors.Is(err, dispense.ErrDuplicateDispense),
		errors.Is(err, dispense.ErrDuplicateVial),
		errors.Is(err, pharmacy.ErrInvalidTransition),
		errors.Is(err, pharmacy.ErrDuplicateItem),
		errors.Is(err, pharmacy.ErrDuplicatePrescription):
		return http.StatusConflict
	case pharmacy.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForResult(r dispense.Result) int {
	switch r.Kind {
	case dispense.FailureNone:
		return http.StatusOK
	case dispense.FailureInvalidInput:
		return http.StatusBadRequest
	case dispense.FailureInsufficient:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError picks the status for err and uses the error text as the
// message for client errors.
func (h *Handler) writeDomainError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error().Err(err).Msg(msg)
		writeError(w, status, msg, err)
		return
	}
	writeError(w, status, err.Error(), nil)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
