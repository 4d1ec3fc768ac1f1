package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/burstq/internal/api"
	"github.com/oriys/burstq/internal/intake"
	"github.com/oriys/burstq/internal/ledger"
	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/notify"
	"github.com/oriys/burstq/internal/observability"
	"github.com/oriys/burstq/internal/scheduler"
	"github.com/oriys/burstq/internal/store"
	"github.com/oriys/burstq/internal/webhook"
)

func serveCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.Addr = httpAddr
			}

			ctx := cmd.Context()

			if err := observability.Init(ctx, observability.Config{
				ServiceName: cfg.Observability.ServiceName,
				Endpoint:    cfg.Observability.OTLPEndpoint,
			}); err != nil {
				return err
			}
			defer observability.Shutdown(context.Background())

			pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer pg.Close()

			led, err := ledger.New(ctx, cfg.Database.LedgerDSN)
			if err != nil {
				return err
			}
			defer led.Close()

			m := metrics.New("burstq")

			commits := intake.NewCommitRegistry()
			commits.Register(store.DefaultCommitRPCName, intake.LedgerCommitter(led))

			deps := intake.WorkerDeps{
				Queue:    pg.Queue(store.IntakeQueue),
				Slots:    pg,
				Configs:  pg,
				Commits:  commits,
				Webhooks: webhook.NewClient(cfg.Worker.RequestTimeout.Std()),
				Metrics:  m,
			}

			var notifier *notify.RedisNotifier
			if cfg.Redis.Addr != "" {
				notifier, err = notify.NewRedisNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				if err != nil {
					return err
				}
				defer notifier.Close()
				deps.Notifier = notifier
			}

			worker := intake.NewWorker(deps, intake.WorkerConfig{
				FallbackVisibilityTimeout: cfg.Worker.FallbackVisibilityTimeout.Std(),
				FallbackBatchSize:         cfg.Worker.FallbackBatchSize,
				Deadline:                  cfg.Worker.Deadline.Std(),
				RequestTimeout:            cfg.Worker.RequestTimeout.Std(),
			})
			claimer := intake.NewClaimer(pg, pg.Queue(store.IntakeQueue), pg, m)

			jobs := scheduler.New(pg, m, scheduler.Config{
				ReaperCadence:   cfg.Reaper.Cadence,
				ReapThreshold:   cfg.Reaper.Threshold.Std(),
				SnapshotCadence: cfg.Snapshot.Cadence,
			})
			if err := jobs.Start(); err != nil {
				return err
			}
			defer jobs.Stop()

			server := api.StartHTTPServer(cfg.Server.Addr, api.ServerConfig{
				Store:       pg,
				Ledger:      led,
				Claimer:     claimer,
				Worker:      worker,
				Metrics:     m,
				WorkerToken: cfg.Server.WorkerToken,
				AdminToken:  cfg.Server.AdminToken,
			})
			logging.Op().Info("intake daemon started", "addr", cfg.Server.Addr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")

	return cmd
}
