package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/burstq/internal/store"
)

type seedRequest struct {
	Count int `json:"count"`
}

// SeedSlots handles POST /admin/pools/{pool_id}/slots: the operator
// seeding path, inserting AVAILABLE inventory.
func (h *Handler) SeedSlots(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		http.Error(w, "count must be positive", http.StatusBadRequest)
		return
	}

	ids, err := h.Store.CreateSlots(r.Context(), poolID, req.Count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"pool_id":  poolID,
		"created":  len(ids),
		"slot_ids": ids,
	})
}

// GetPoolConfig handles GET /admin/pools/{pool_id}/config. Pools without a
// config row answer with the defaults they run on.
func (h *Handler) GetPoolConfig(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	cfg, err := h.Store.GetPoolConfig(r.Context(), poolID)
	if errors.Is(err, store.ErrPoolConfigNotFound) {
		writeJSON(w, http.StatusOK, poolConfigView(store.DefaultPoolConfig(poolID)))
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, poolConfigView(cfg))
}

type poolConfigRequest struct {
	BatchSize            int    `json:"batch_size"`
	VisibilityTimeoutS   int    `json:"visibility_timeout_s"`
	MaxRetries           *int   `json:"max_retries"`
	IsActive             *bool  `json:"is_active"`
	ValidationWebhookURL string `json:"validation_webhook_url"`
	CommitRPCName        string `json:"commit_rpc_name"`
	CommitWebhookURL     string `json:"commit_webhook_url"`
}

// PutPoolConfig handles PUT /admin/pools/{pool_id}/config.
func (h *Handler) PutPoolConfig(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("pool_id")

	var req poolConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	cfg := store.DefaultPoolConfig(poolID)
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.VisibilityTimeoutS > 0 {
		cfg.VisibilityTimeout = time.Duration(req.VisibilityTimeoutS) * time.Second
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		cfg.MaxRetries = *req.MaxRetries
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}
	cfg.ValidationWebhookURL = req.ValidationWebhookURL
	if req.CommitRPCName != "" {
		cfg.CommitRPCName = req.CommitRPCName
	}
	cfg.CommitWebhookURL = req.CommitWebhookURL

	if err := h.Store.UpsertPoolConfig(r.Context(), cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, poolConfigView(cfg))
}

// poolConfigView renders the visibility timeout in seconds, matching the
// write shape.
func poolConfigView(cfg *store.PoolConfig) map[string]any {
	return map[string]any{
		"pool_id":                cfg.PoolID,
		"batch_size":             cfg.BatchSize,
		"visibility_timeout_s":   int(cfg.VisibilityTimeout / time.Second),
		"max_retries":            cfg.MaxRetries,
		"is_active":              cfg.IsActive,
		"validation_webhook_url": cfg.ValidationWebhookURL,
		"commit_rpc_name":        cfg.CommitRPCName,
		"commit_webhook_url":     cfg.CommitWebhookURL,
	}
}

func parseLimitQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
