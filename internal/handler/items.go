package handler

import (
	"net/http"

	"github.com/honeynil/EquipmentLendingService/internal/models"
)

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in models.ItemInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.items.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := models.ItemFilter{
		CategoryID:  q.int32Ptr("category_id"),
		Name:        q.str("name"),
		Location:    q.strPtr("location"),
		IsAvailable: q.boolPtr("is_available"),
		SortBy:      q.str("sort_by"),
		SortOrder:   q.str("sort_order"),
		Skip:        q.number("skip"),
		Limit:       q.number("limit"),
	}
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	items, err := h.items.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch models.ItemPatch
	if err := decode(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.items.Update(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	found, err := h.items.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": found})
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	category, err := h.categories.Create(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	skip, limit := q.number("skip"), q.number("limit")
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	categories, err := h.categories.List(r.Context(), skip, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	category, err := h.categories.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	category, err := h.categories.Update(r.Context(), id, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	found, err := h.categories.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": found})
}

func (h *Handler) CreateSearchLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SearchKeyword string `json:"search_keyword"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	userID := identity(r).UserID
	entry, err := h.searchLogs.Record(r.Context(), &userID, req.SearchKeyword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
