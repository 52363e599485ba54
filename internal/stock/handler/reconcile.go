package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
)

// ReconcileHandler handles reconciliation endpoints
type ReconcileHandler struct {
	reconciliation *service.ReconciliationService
	logger         *logger.Logger
}

// NewReconcileHandler creates a new reconciliation handler
func NewReconcileHandler(reconciliation *service.ReconciliationService, log *logger.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconciliation: reconciliation,
		logger:         log,
	}
}

// VerifyAll sweeps every batch and quarantines divergent ones
func (h *ReconcileHandler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.VerifyAll(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// VerifyBatch checks one batch against its ledger sum
func (h *ReconcileHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.reconciliation.VerifyBatch(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"batch_id": id, "status": "consistent"})
}

// Rebuild recomputes on-hand quantities from the ledger
func (h *ReconcileHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	rebuilt, err := h.reconciliation.Rebuild(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int{"rebuilt": rebuilt})
}
