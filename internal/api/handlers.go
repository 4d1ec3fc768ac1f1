package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oriys/burstq/internal/auth"
	"github.com/oriys/burstq/internal/intake"
	"github.com/oriys/burstq/internal/ledger"
	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
)

// Handler handles the intake daemon's HTTP requests.
type Handler struct {
	Store       *store.PostgresStore
	Ledger      *ledger.Store
	Claimer     *intake.Claimer
	Worker      *intake.Worker
	Metrics     *metrics.Metrics
	WorkerToken string
	AdminToken  string
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Caller-facing claim path.
	mux.HandleFunc("POST /pools/{pool_id}/claims", h.Claim)

	// Drain trigger; the admin credential is also accepted.
	mux.HandleFunc("POST /worker/drain", auth.Require(h.Drain, h.WorkerToken, h.AdminToken))

	// DLQ administration.
	mux.HandleFunc("GET /dlq", auth.Require(h.ListDLQ, h.AdminToken))
	mux.HandleFunc("POST /dlq/replay", auth.Require(h.ReplayDLQ, h.AdminToken))
	mux.HandleFunc("POST /dlq/discard", auth.Require(h.DiscardDLQ, h.AdminToken))

	// Operator surface.
	mux.HandleFunc("POST /admin/pools/{pool_id}/slots", auth.Require(h.SeedSlots, h.AdminToken))
	mux.HandleFunc("GET /admin/pools/{pool_id}/config", auth.Require(h.GetPoolConfig, h.AdminToken))
	mux.HandleFunc("PUT /admin/pools/{pool_id}/config", auth.Require(h.PutPoolConfig, h.AdminToken))

	// Health probes and metrics.
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)
	mux.Handle("GET /metrics", h.Metrics.Handler())
}

type claimRequest struct {
	UserID string `json:"user_id"`
}

type claimResponse struct {
	ResourceID *string `json:"resource_id"`
}

// Claim handles POST /pools/{pool_id}/claims. Sold out and inactive pools
// answer with a null resource id, never an error.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	resourceID, err := h.Claimer.ClaimResourceAndQueue(r.Context(), poolID, req.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := claimResponse{}
	if resourceID != "" {
		resp.ResourceID = &resourceID
	}
	writeJSON(w, http.StatusOK, resp)
}

type drainResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	DLQ       int    `json:"dlq"`
	Total     int    `json:"total"`
}

// Drain handles POST /worker/drain: one bridge worker invocation. A queue
// read failure is a 5xx; the next scheduled trigger retries with nothing
// lost.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Worker.DrainOnce(r.Context())
	if err != nil {
		logging.Op().Error("drain invocation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := "success"
	if sum.Total == 0 {
		status = "idle"
	}
	writeJSON(w, http.StatusOK, drainResponse{
		Status:    status,
		Processed: sum.Processed,
		DLQ:       sum.DLQ,
		Total:     sum.Total,
	})
}

// Health handles GET /health - detailed status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeOK := h.Store.Ping(ctx) == nil
	ledgerOK := h.Ledger.Ping(ctx) == nil

	status := "ok"
	code := http.StatusOK
	if !storeOK || !ledgerOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"store":  storeOK,
		"ledger": ledgerOK,
	})
}

// HealthLive handles GET /health/live - process liveness only.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - dependency readiness.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
