package web

import (
	"net/http"
	"strconv"

	"inventory-ledger/internal/app"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListProducts(r.Context(), orgID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListLocations(r.Context(), orgID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// stockLevels handles GET /inventory?product=&location=.
func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.svc.GetStockLevels(r.Context(), orgID(r), app.StockQuery{
		Product:  q.Get("product"),
		Location: q.Get("location"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) stockLevel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetStockLevel(r.Context(), orgID(r), chi.URLParam(r, "product"), chi.URLParam(r, "location"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) productSummary(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetProductSummary(r.Context(), orgID(r), chi.URLParam(r, "product"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) locationSummary(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetLocationSummary(r.Context(), orgID(r), chi.URLParam(r, "location"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// transactions handles GET /transactions with optional product, location,
// type, reference_id, since, until and limit query parameters.
func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := app.HistoryQuery{
		Product:     q.Get("product"),
		Location:    q.Get("location"),
		Type:        q.Get("type"),
		ReferenceID: q.Get("reference_id"),
		Since:       q.Get("since"),
		Until:       q.Get("until"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeErrorResponse(w, r, errorResponse{Error: "limit must be a non-negative integer", Code: "VALIDATION_ERROR", Field: "limit"}, http.StatusBadRequest)
			return
		}
		hq.Limit = n
	}
	res, err := h.svc.GetTransactionHistory(r.Context(), orgID(r), hq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetLowStock(r.Context(), orgID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reconcile(r.Context(), orgID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// stockAsOf handles GET /stock-as-of?product=&location=&as_of=.
func (h *Handler) stockAsOf(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.svc.GetStockAsOf(r.Context(), orgID(r), q.Get("product"), q.Get("location"), q.Get("as_of"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}
