package api

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/burstq/internal/store"
)

// ListDLQ handles GET /dlq?pool_id=&limit=.
func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	limit := parseLimitQuery(r.URL.Query().Get("limit"), 100)

	msgs, err := h.Store.ListDLQ(r.Context(), poolID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []store.DLQMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

type dlqReplayRequest struct {
	MsgIDs []int64 `json:"msg_ids"`
}

// ReplayDLQ handles POST /dlq/replay: selected messages go back into the
// intake queue with their provenance stripped; the bound slots stay
// RESERVED so the intents resume.
func (h *Handler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	var req dlqReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(req.MsgIDs) == 0 {
		http.Error(w, "msg_ids is required", http.StatusBadRequest)
		return
	}

	replayed, err := h.Store.ReplayDLQ(r.Context(), req.MsgIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replayed": replayed})
}

type dlqDiscardRequest struct {
	MsgIDs       []int64 `json:"msg_ids"`
	ReleaseSlots bool    `json:"release_slots"`
}

// DiscardDLQ handles POST /dlq/discard. With release_slots the operator
// also frees slots still RESERVED for the discarded intents.
func (h *Handler) DiscardDLQ(w http.ResponseWriter, r *http.Request) {
	var req dlqDiscardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(req.MsgIDs) == 0 {
		http.Error(w, "msg_ids is required", http.StatusBadRequest)
		return
	}

	discarded, err := h.Store.DiscardDLQ(r.Context(), req.MsgIDs, req.ReleaseSlots)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discarded": discarded})
}
