package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
)

// ItemHandler handles item endpoints. Item master data is mirrored from the
// catalog service; these endpoints read the mirror and patch it where no
// broker is wired up.
type ItemHandler struct {
	itemRepo  *repository.ItemRepository
	batchRepo *repository.BatchRepository
	logger    *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(itemRepo *repository.ItemRepository, batchRepo *repository.BatchRepository, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		itemRepo:  itemRepo,
		batchRepo: batchRepo,
		logger:    log,
	}
}

// List lists items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	items, total, err := h.itemRepo.List(r.Context(), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, items, meta(page, perPage, total))
}

// Get gets an item by ID
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.itemRepo.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Upsert creates or replaces an item's master data
func (h *ItemHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item repository.Item
	if err := httputil.DecodeJSON(r, &item); err != nil {
		httputil.Error(w, err)
		return
	}

	item.ID = id
	if err := h.itemRepo.Upsert(r.Context(), &item); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Deactivate marks an item inactive; its batches stay visible but nothing
// allocates from them anymore
func (h *ItemHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.itemRepo.Deactivate(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Stock returns the item's batches plus its total eligible quantity
func (h *ItemHandler) Stock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.itemRepo.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batches, err := h.batchRepo.ListByItem(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	total, err := h.batchRepo.TotalEligibleStock(r.Context(), id, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"item":           item,
		"batches":        batches,
		"total_eligible": total,
	})
}

func pagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return page, perPage
}

func meta(page, perPage int, total int64) *httputil.Meta {
	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	return &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
