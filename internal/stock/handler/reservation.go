package handler

import (
	"net/http"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// ReservationHandler handles reservation endpoints
type ReservationHandler struct {
	reservations *service.ReservationService
	resRepo      *repository.ReservationRepository
	logger       *logger.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(
	reservations *service.ReservationService,
	resRepo *repository.ReservationRepository,
	log *logger.Logger,
) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		resRepo:      resRepo,
		logger:       log,
	}
}

// HoldRequest is the reservation payload
type HoldRequest struct {
	ItemID        string          `json:"item_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	WarehouseID   string          `json:"warehouse_id"`
	ReferenceType string          `json:"reference_type" validate:"required"`
	ReferenceID   string          `json:"reference_id" validate:"required"`
	TTLSeconds    int             `json:"ttl_seconds"`
}

// Hold reserves eligible stock ahead of dispensing
func (h *ReservationHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	held, err := h.reservations.Hold(r.Context(), service.HoldRequest{
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		WarehouseID:   req.WarehouseID,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, held)
}

// SettleRequest identifies the reservations of one reference
type SettleRequest struct {
	ReferenceType string `json:"reference_type" validate:"required"`
	ReferenceID   string `json:"reference_id" validate:"required"`
	// Kind is required for confirm only: the dispense movement kind the
	// reservation turns into
	Kind string `json:"kind"`
}

// Confirm converts active reservations into committed consumption
func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	entries, err := h.reservations.Confirm(r.Context(),
		req.ReferenceType, req.ReferenceID,
		repository.MovementKind(req.Kind),
		httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// Release gives back active reservations without consuming them
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.reservations.Release(r.Context(), req.ReferenceType, req.ReferenceID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// ListByReference lists all reservations under a reference, any status
func (h *ReservationHandler) ListByReference(w http.ResponseWriter, r *http.Request) {
	referenceType := r.URL.Query().Get("reference_type")
	referenceID := r.URL.Query().Get("reference_id")
	if referenceType == "" || referenceID == "" {
		httputil.Error(w, errors.BadRequest("reference_type and reference_id are required"))
		return
	}

	reservations, err := h.resRepo.ListByReference(r.Context(), referenceType, referenceID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reservations)
}
