package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"inventory-ledger/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler holds the ApplicationService, the chi router, and the pending intent store.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	pending   *pendingStore
	jwtSecret string
	log       *zap.Logger
}

// NewHandler creates and wires the chi router with all routes. The purge
// goroutine of the pending store stops when ctx is done.
func NewHandler(ctx context.Context, svc app.ApplicationService, allowedOrigins, jwtSecret string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		svc:       svc,
		pending:   newPendingStore(),
		jwtSecret: jwtSecret,
		log:       log.Named("http"),
	}
	h.pending.startPurge(ctx)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(CORS(allowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Get("/api/schema/{operation}", h.schema)

	// ── Protected API routes (401 JSON if unauthenticated) ───────────────────
	r.Route("/api/orgs/{org}", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(h.RequireOrg)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Post("/stock/receive", h.receive)
		r.Post("/stock/consume", h.consume)
		r.Post("/stock/reserve", h.reserve)
		r.Post("/stock/release", h.release)
		r.Post("/stock/adjust", h.adjust)
		r.Post("/stock/transfer", h.transfer)

		r.Get("/products", h.listProducts)
		r.Get("/locations", h.listLocations)
		r.Get("/inventory", h.stockLevels)
		r.Get("/inventory/{product}/{location}", h.stockLevel)
		r.Get("/products/{product}/summary", h.productSummary)
		r.Get("/locations/{location}/summary", h.locationSummary)
		r.Get("/transactions", h.transactions)
		r.Get("/low-stock", h.lowStock)
		r.Get("/reconcile", h.reconcile)
		r.Get("/stock-as-of", h.stockAsOf)

		r.Post("/ai/interpret", h.aiInterpret)
		r.Post("/ai/confirm", h.aiConfirm)
	})

	h.router = r
	return r
}

// health returns service status and the default organization, if any.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status       string `json:"status"`
		Organization string `json:"organization,omitempty"`
	}
	resp := response{Status: "ok"}
	if org, err := h.svc.LoadDefaultOrganization(r.Context()); err == nil && org != nil {
		resp.Organization = org.ID.String()
	}
	writeJSON(w, resp)
}

// orgID returns the {org} URL parameter. RequireOrg has already checked it.
func orgID(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(chi.URLParam(r, "org"))
	return id
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
