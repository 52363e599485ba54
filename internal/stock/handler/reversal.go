package handler

import (
	"net/http"

	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// ReversalHandler handles return and correction endpoints
type ReversalHandler struct {
	reversal *service.ReversalService
	logger   *logger.Logger
}

// NewReversalHandler creates a new reversal handler
func NewReversalHandler(reversal *service.ReversalService, log *logger.Logger) *ReversalHandler {
	return &ReversalHandler{
		reversal: reversal,
		logger:   log,
	}
}

// ReverseRequest is the return payload. BatchID is optional: a return that
// cannot name its lot goes to the item's unspecified bucket.
type ReverseRequest struct {
	ItemID        string          `json:"item_id" validate:"required"`
	BatchID       string          `json:"batch_id"`
	WarehouseID   string          `json:"warehouse_id"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	ReferenceType string          `json:"reference_type" validate:"required"`
	ReferenceID   string          `json:"reference_id" validate:"required"`
	Note          string          `json:"note"`
}

// Reverse credits returned stock back to a batch
func (h *ReversalHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := h.reversal.Reverse(r.Context(), service.ReverseRequest{
		ItemID:        req.ItemID,
		BatchID:       req.BatchID,
		WarehouseID:   req.WarehouseID,
		Quantity:      req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		PerformedBy:   httputil.GetActorID(r.Context()),
		Note:          req.Note,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, entry)
}
