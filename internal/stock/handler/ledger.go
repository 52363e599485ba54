package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
)

// LedgerHandler exposes the append-only movement history
type LedgerHandler struct {
	ledgerRepo *repository.LedgerRepository
	logger     *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerRepo *repository.LedgerRepository, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledgerRepo: ledgerRepo,
		logger:     log,
	}
}

// ListByBatch lists a batch's movements, newest first
func (h *LedgerHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page, perPage := pagination(r)

	entries, total, err := h.ledgerRepo.ListByBatch(r.Context(), id, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, meta(page, perPage, total))
}

// ListByItem lists an item's movements, newest first
func (h *LedgerHandler) ListByItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page, perPage := pagination(r)

	entries, total, err := h.ledgerRepo.ListByItem(r.Context(), id, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, meta(page, perPage, total))
}

// ListByReference lists every movement a demand document produced
func (h *LedgerHandler) ListByReference(w http.ResponseWriter, r *http.Request) {
	referenceType := r.URL.Query().Get("reference_type")
	referenceID := r.URL.Query().Get("reference_id")
	if referenceType == "" || referenceID == "" {
		httputil.Error(w, errors.BadRequest("reference_type and reference_id are required"))
		return
	}

	entries, err := h.ledgerRepo.ListByReference(r.Context(), referenceType, referenceID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListControlled lists movements of controlled items in a time window, for the
// narcotics register
func (h *LedgerHandler) ListControlled(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from", time.Now().UTC().AddDate(0, -1, 0))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	to, err := parseTimeParam(r, "to", time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entries, err := h.ledgerRepo.ListControlled(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.BadRequest(name + " must be an RFC 3339 timestamp")
	}
	return t, nil
}
