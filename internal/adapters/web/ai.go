package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"inventory-ledger/internal/ai"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ── Pending intent store ──────────────────────────────────────────────────────

// pendingIntent is stored server-side until the user confirms or cancels.
type pendingIntent struct {
	Intent    ai.StockIntent
	OrgID     uuid.UUID
	Subject   string
	CreatedAt time.Time
}

const pendingTTL = 15 * time.Minute

// pendingStore is a thread-safe in-memory store with TTL expiry.
type pendingStore struct {
	mu      sync.Mutex
	intents map[string]pendingIntent
	now     func() time.Time
}

func newPendingStore() *pendingStore {
	return &pendingStore{intents: make(map[string]pendingIntent), now: time.Now}
}

func (s *pendingStore) put(token string, p pendingIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[token] = p
}

// take removes and returns the intent for token if it has not expired and
// owns reports it as the caller's. A token that fails either check stays
// stored for its owner.
func (s *pendingStore) take(token string, owns func(pendingIntent) bool) (pendingIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.intents[token]
	if !ok {
		return pendingIntent{}, false
	}
	if s.now().Sub(p.CreatedAt) > pendingTTL {
		delete(s.intents, token)
		return pendingIntent{}, false
	}
	if !owns(p) {
		return pendingIntent{}, false
	}
	delete(s.intents, token)
	return p, true
}

func (s *pendingStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, p := range s.intents {
		if s.now().Sub(p.CreatedAt) > pendingTTL {
			delete(s.intents, token)
		}
	}
}

// startPurge starts a background goroutine that evicts expired entries every 5 minutes.
func (s *pendingStore) startPurge(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purge()
			}
		}
	}()
}

// ── Handlers ──────────────────────────────────────────────────────────────────

type interpretResponse struct {
	Token         string          `json:"token,omitempty"`
	Intent        *ai.StockIntent `json:"intent,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Clarification string          `json:"clarification,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// aiInterpret handles POST /api/orgs/{org}/ai/interpret. The proposed intent
// is parked under a one-time token; nothing is executed.
func (h *Handler) aiInterpret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeErrorResponse(w, r, errorResponse{Error: "text is required", Code: "VALIDATION_ERROR", Field: "text"}, http.StatusBadRequest)
		return
	}

	org := orgID(r)
	res, err := h.svc.InterpretStockEvent(r.Context(), org, text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.IsClarification {
		writeJSON(w, interpretResponse{Clarification: res.ClarificationMessage})
		return
	}

	token := uuid.NewString()
	created := h.pending.now()
	h.pending.put(token, pendingIntent{Intent: *res.Intent, OrgID: org, Subject: createdBy(r), CreatedAt: created})
	expires := created.Add(pendingTTL)
	writeJSON(w, interpretResponse{Token: token, Intent: res.Intent, Summary: res.Intent.Summary(), ExpiresAt: &expires})
}

// aiConfirm handles POST /api/orgs/{org}/ai/confirm with {"token", "action"}.
// action is "confirm" (default) or "cancel". Tokens are single use.
func (h *Handler) aiConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Action string `json:"action"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	action := strings.ToLower(req.Action)
	if action != "" && action != "confirm" && action != "cancel" {
		writeErrorResponse(w, r, errorResponse{Error: "action must be confirm or cancel", Code: "VALIDATION_ERROR", Field: "action"}, http.StatusBadRequest)
		return
	}

	org, subject := orgID(r), createdBy(r)
	p, ok := h.pending.take(req.Token, func(p pendingIntent) bool {
		return p.OrgID == org && p.Subject == subject
	})
	if !ok {
		writeError(w, r, "unknown or expired confirmation token", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if action == "cancel" {
		writeJSON(w, map[string]any{"cancelled": true})
		return
	}

	res, err := h.svc.ExecuteIntent(r.Context(), org, p.Intent, p.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("intent executed",
		zap.String("operation", string(p.Intent.Operation)),
		zap.String("created_by", p.Subject),
		zap.String("request_id", requestIDFromContext(r.Context())))
	writeJSON(w, res)
}
