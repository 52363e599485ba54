package handler

import (
	"net/http"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// AllocationHandler handles allocation endpoints
type AllocationHandler struct {
	allocator *service.Allocator
	logger    *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(allocator *service.Allocator, log *logger.Logger) *AllocationHandler {
	return &AllocationHandler{
		allocator: allocator,
		logger:    log,
	}
}

// DemandLineRequest is one demanded item in an allocation payload
type DemandLineRequest struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AllocateRequest is the allocation payload
type AllocateRequest struct {
	Lines         []DemandLineRequest `json:"lines" validate:"required,min=1,dive"`
	Mode          string              `json:"mode" validate:"required"`
	Kind          string              `json:"kind" validate:"required"`
	ReferenceType string              `json:"reference_type" validate:"required"`
	ReferenceID   string              `json:"reference_id" validate:"required"`
	WarehouseID   string              `json:"warehouse_id"`
	AsOf          time.Time           `json:"as_of"`
}

func (req *AllocateRequest) toService(performedBy string) service.AllocationRequest {
	lines := make([]service.DemandLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = service.DemandLine{ItemID: l.ItemID, Quantity: l.Quantity}
	}

	return service.AllocationRequest{
		Lines:         lines,
		Mode:          service.AllocationMode(req.Mode),
		Kind:          repository.MovementKind(req.Kind),
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		WarehouseID:   req.WarehouseID,
		PerformedBy:   performedBy,
		AsOf:          req.AsOf,
	}
}

// Allocate commits an allocation
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.Allocate(r.Context(), req.toService(httputil.GetActorID(r.Context())))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if result.Committed && !result.Replayed {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, result)
}

// Preview computes the allocation plan without committing anything
func (h *AllocationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.Preview(r.Context(), req.toService(""))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// DocumentLineRequest is one source document line in an aggregated payload
type DocumentLineRequest struct {
	DocumentID string          `json:"document_id" validate:"required"`
	LineID     string          `json:"line_id" validate:"required"`
	ItemID     string          `json:"item_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// AllocateDocumentsRequest aggregates many document lines into one allocation
type AllocateDocumentsRequest struct {
	Lines         []DocumentLineRequest `json:"lines" validate:"required,min=1,dive"`
	Mode          string                `json:"mode" validate:"required"`
	Kind          string                `json:"kind" validate:"required"`
	ReferenceType string                `json:"reference_type" validate:"required"`
	ReferenceID   string                `json:"reference_id" validate:"required"`
	WarehouseID   string                `json:"warehouse_id"`
}

// AllocateDocumentsResponse carries the allocation plus its per-source split
type AllocateDocumentsResponse struct {
	Result  *service.AllocationResult  `json:"result"`
	Sources []service.SourceAllocation `json:"sources"`
}

// AllocateDocuments merges the demand of many source documents, allocates once
// and splits the consumed batches back out per source line
func (h *AllocationHandler) AllocateDocuments(w http.ResponseWriter, r *http.Request) {
	var req AllocateDocumentsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	docLines := make([]service.DocumentLine, len(req.Lines))
	for i, l := range req.Lines {
		docLines[i] = service.DocumentLine{
			DocumentID: l.DocumentID,
			LineID:     l.LineID,
			ItemID:     l.ItemID,
			Quantity:   l.Quantity,
		}
	}

	set, err := service.AggregateDocuments(docLines)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.Allocate(r.Context(), service.AllocationRequest{
		Lines:         set.Lines,
		Mode:          service.AllocationMode(req.Mode),
		Kind:          repository.MovementKind(req.Kind),
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		WarehouseID:   req.WarehouseID,
		PerformedBy:   httputil.GetActorID(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if result.Committed && !result.Replayed {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, AllocateDocumentsResponse{
		Result:  result,
		Sources: set.Distribute(result),
	})
}
