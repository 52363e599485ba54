package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
)

// AlertHandler handles alert scan endpoints. Scans run against current stock
// on every call; nothing is persisted.
type AlertHandler struct {
	scanner *service.AlertScanner
	logger  *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(scanner *service.AlertScanner, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		scanner: scanner,
		logger:  log,
	}
}

// LowStock returns items at or below their minimum stock level
func (h *AlertHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.scanner.LowStock(r.Context(), time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, levels)
}

// NearExpiry returns batches expiring within the horizon. The horizon_days
// query parameter overrides the configured default (30/60/90 day views).
func (h *AlertHandler) NearExpiry(w http.ResponseWriter, r *http.Request) {
	var horizon time.Duration
	if raw := r.URL.Query().Get("horizon_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			httputil.Error(w, errors.BadRequest("horizon_days must be a positive integer"))
			return
		}
		horizon = time.Duration(days) * 24 * time.Hour
	}

	findings, err := h.scanner.NearExpiry(r.Context(), time.Now().UTC(), horizon)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, findings)
}

// Scan runs the full scan and publishes an event per finding
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.ScanAll(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
