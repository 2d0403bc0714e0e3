package web

import (
	"net/http"

	"inventory-ledger/internal/app"
)

// receive handles POST /api/orgs/{org}/stock/receive.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Receive(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// consume handles POST /api/orgs/{org}/stock/consume.
func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	var req app.ConsumeStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Consume(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// reserve handles POST /api/orgs/{org}/stock/reserve.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req app.ReserveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// release handles POST /api/orgs/{org}/stock/release.
func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	var req app.ReleaseStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Release(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// adjust handles POST /api/orgs/{org}/stock/adjust.
func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req app.AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Adjust(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// transfer handles POST /api/orgs/{org}/stock/transfer.
func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req app.TransferStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrgID, req.CreatedBy = orgID(r), createdBy(r)
	res, err := h.svc.Transfer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}
