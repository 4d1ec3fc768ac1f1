// Package api exposes the HTTP surface of the intake daemon: the claim
// endpoint, the drain trigger, DLQ administration, operator seeding, health
// probes, and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/oriys/burstq/internal/intake"
	"github.com/oriys/burstq/internal/ledger"
	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/observability"
	"github.com/oriys/burstq/internal/store"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Store       *store.PostgresStore
	Ledger      *ledger.Store
	Claimer     *intake.Claimer
	Worker      *intake.Worker
	Metrics     *metrics.Metrics
	WorkerToken string
	AdminToken  string
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &Handler{
		Store:       cfg.Store,
		Ledger:      cfg.Ledger,
		Claimer:     cfg.Claimer,
		Worker:      cfg.Worker,
		Metrics:     cfg.Metrics,
		WorkerToken: cfg.WorkerToken,
		AdminToken:  cfg.AdminToken,
	}
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
