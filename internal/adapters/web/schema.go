package web

import (
	"net/http"

	"inventory-ledger/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"
)

// requestBodies maps each stock operation to the body its POST endpoint accepts.
var requestBodies = map[string]any{
	"receive":  &app.ReceiveStockRequest{},
	"consume":  &app.ConsumeStockRequest{},
	"reserve":  &app.ReserveStockRequest{},
	"release":  &app.ReleaseStockRequest{},
	"adjust":   &app.AdjustStockRequest{},
	"transfer": &app.TransferStockRequest{},
}

// schema handles GET /api/schema/{operation} and returns the JSON Schema of
// that operation's request body.
func (h *Handler) schema(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "operation")
	body, ok := requestBodies[op]
	if !ok {
		writeError(w, r, "unknown operation "+op, "NOT_FOUND", http.StatusNotFound)
		return
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	writeJSON(w, reflector.Reflect(body))
}
