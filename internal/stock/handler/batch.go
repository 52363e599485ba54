package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// BatchHandler handles batch and goods receipt endpoints
type BatchHandler struct {
	batchRepo *repository.BatchRepository
	receiving *service.ReceivingService
	reversal  *service.ReversalService
	logger    *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(
	batchRepo *repository.BatchRepository,
	receiving *service.ReceivingService,
	reversal *service.ReversalService,
	log *logger.Logger,
) *BatchHandler {
	return &BatchHandler{
		batchRepo: batchRepo,
		receiving: receiving,
		reversal:  reversal,
		logger:    log,
	}
}

// Get gets a batch by ID
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.batchRepo.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// ReceiveRequest is the goods receipt payload
type ReceiveRequest struct {
	ItemID      string          `json:"item_id" validate:"required"`
	WarehouseID string          `json:"warehouse_id"`
	BatchNumber string          `json:"batch_number" validate:"required"`
	ExpiryDate  time.Time       `json:"expiry_date" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ReferenceID string          `json:"reference_id" validate:"required"`
}

// Receive credits a batch from a goods receipt line
func (h *BatchHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.receiving.Receive(r.Context(), service.ReceiveRequest{
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		ReferenceID: req.ReferenceID,
		PerformedBy: httputil.GetActorID(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// TransferRequest is the warehouse transfer payload
type TransferRequest struct {
	ToWarehouseID string          `json:"to_warehouse_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	ReferenceID   string          `json:"reference_id" validate:"required"`
}

// Transfer moves quantity from this batch to another warehouse
func (h *BatchHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.reversal.Transfer(r.Context(), service.TransferRequest{
		BatchID:       id,
		ToWarehouseID: req.ToWarehouseID,
		Quantity:      req.Quantity,
		ReferenceID:   req.ReferenceID,
		PerformedBy:   httputil.GetActorID(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
