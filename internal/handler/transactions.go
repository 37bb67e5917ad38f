package handler

import (
	"net/http"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in models.TransactionInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.CreateDirect(r.Context(), identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) RequestTransaction(w http.ResponseWriter, r *http.Request) {
	var in models.TransactionInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.Request(r.Context(), identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := models.TransactionFilter{
		UserID: q.int32Ptr("user_id"),
		ItemID: q.int32Ptr("item_id"),
		Skip:   q.number("skip"),
		Limit:  q.number("limit"),
	}
	if s := q.str("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = &status
	}
	if s := q.str("type"); s != "" {
		t := models.TransactionType(s)
		if !t.Valid() {
			h.writeError(w, r, pkgerrors.ErrInvalidTransactionType)
			return
		}
		filter.Type = &t
	}
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	list, err := h.lending.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// UpdateTransactionStatus moves a transaction to the status named by the
// "status" query parameter.
func (h *Handler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	target, err := models.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.UpdateStatus(r.Context(), identity(r), id, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.Cancel(r.Context(), identity(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ReturnTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.lending.Return(r.Context(), identity(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
