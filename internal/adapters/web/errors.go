package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp.RequestID = requestIDFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps a service error onto its HTTP status and error code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *core.ValidationError
		short *core.InsufficientStockError
		nf    *core.NotFoundError
		lock  *core.ConcurrencyTimeoutError
		integ *core.IntegrityError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorResponse(w, r, errorResponse{Error: verr.Error(), Code: "VALIDATION_ERROR", Field: verr.Field}, http.StatusBadRequest)
	case errors.As(err, &short):
		writeError(w, r, short.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.As(err, &nf):
		writeError(w, r, nf.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &lock):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, lock.Error(), "LOCK_TIMEOUT", http.StatusServiceUnavailable)
	case errors.As(err, &integ):
		h.log.Error("integrity error", zap.Error(err), zap.String("request_id", requestIDFromContext(r.Context())))
		writeError(w, r, "ledger integrity check failed; the operation was rolled back", "INTEGRITY_ERROR", http.StatusInternalServerError)
	case errors.Is(err, app.ErrAgentUnavailable):
		writeError(w, r, err.Error(), "AI_UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		h.log.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())))
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
