package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/burstq/internal/config"
	"github.com/oriys/burstq/internal/intake"
	"github.com/oriys/burstq/internal/ledger"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
	"github.com/oriys/burstq/internal/webhook"
)

// openStore connects to the primary datastore for one-shot admin commands.
func openStore(ctx context.Context) (*store.PostgresStore, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, cfg, nil
}

func seedCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed <pool-id>",
		Short: "Seed AVAILABLE slots into a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			ids, err := pg.CreateSlots(ctx, args[0], count)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d slots into pool %s\n", len(ids), args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Number of slots to create")
	cmd.MarkFlagRequired("count")

	return cmd
}

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage per-pool runtime config",
	}
	cmd.AddCommand(poolGetCmd(), poolSetCmd(), poolStatusCmd())
	return cmd
}

func poolGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <pool-id>",
		Short: "Show a pool's effective config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			cfg, err := pg.GetPoolConfig(ctx, args[0])
			if errors.Is(err, store.ErrPoolConfigNotFound) {
				cfg = store.DefaultPoolConfig(args[0])
				fmt.Println("(no config row; defaults shown)")
			} else if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Pool:\t%s\n", cfg.PoolID)
			fmt.Fprintf(w, "Active:\t%t\n", cfg.IsActive)
			fmt.Fprintf(w, "Batch size:\t%d\n", cfg.BatchSize)
			fmt.Fprintf(w, "Visibility timeout:\t%s\n", cfg.VisibilityTimeout)
			fmt.Fprintf(w, "Max retries:\t%d\n", cfg.MaxRetries)
			fmt.Fprintf(w, "Validation webhook:\t%s\n", cfg.ValidationWebhookURL)
			fmt.Fprintf(w, "Commit RPC:\t%s\n", cfg.CommitRPCName)
			fmt.Fprintf(w, "Commit webhook:\t%s\n", cfg.CommitWebhookURL)
			return w.Flush()
		},
	}
}

func poolSetCmd() *cobra.Command {
	var (
		batchSize     int
		visibilityS   int
		maxRetries    int
		inactive      bool
		validationURL string
		commitRPC     string
		commitURL     string
	)

	cmd := &cobra.Command{
		Use:   "set <pool-id>",
		Short: "Create or replace a pool's config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			cfg := store.DefaultPoolConfig(args[0])
			if batchSize > 0 {
				cfg.BatchSize = batchSize
			}
			if visibilityS > 0 {
				cfg.VisibilityTimeout = time.Duration(visibilityS) * time.Second
			}
			if maxRetries >= 0 {
				cfg.MaxRetries = maxRetries
			}
			cfg.IsActive = !inactive
			cfg.ValidationWebhookURL = validationURL
			if commitRPC != "" {
				cfg.CommitRPCName = commitRPC
			}
			cfg.CommitWebhookURL = commitURL

			if err := pg.UpsertPoolConfig(ctx, cfg); err != nil {
				return err
			}
			fmt.Printf("Pool %s configured\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Worker batch size")
	cmd.Flags().IntVar(&visibilityS, "visibility-timeout", 0, "Visibility timeout in seconds")
	cmd.Flags().IntVar(&maxRetries, "max-retries", store.DefaultMaxRetries, "Retry budget before dead-lettering")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Mark the pool inactive")
	cmd.Flags().StringVar(&validationURL, "validation-webhook", "", "Validation webhook URL")
	cmd.Flags().StringVar(&commitRPC, "commit-rpc", "", "In-process commit RPC name")
	cmd.Flags().StringVar(&commitURL, "commit-webhook", "", "Commit webhook URL")

	return cmd
}

func poolStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <pool-id>",
		Short: "Show a pool's slot counts and queue depths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			counts, err := pg.CountSlots(ctx, args[0])
			if err != nil {
				return err
			}
			queueDepth, err := pg.Queue(store.IntakeQueue).Depth(ctx)
			if err != nil {
				return err
			}
			dlqDepth, err := pg.Queue(store.IntakeDLQ).Depth(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Available:\t%d\n", counts.Available)
			fmt.Fprintf(w, "Reserved:\t%d\n", counts.Reserved)
			fmt.Fprintf(w, "Consumed:\t%d\n", counts.Consumed)
			fmt.Fprintf(w, "Queue depth:\t%d\n", queueDepth)
			fmt.Fprintf(w, "DLQ depth:\t%d\n", dlqDepth)
			return w.Flush()
		},
	}
}

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and administer the dead-letter queue",
	}
	cmd.AddCommand(dlqListCmd(), dlqReplayCmd(), dlqDiscardCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var (
		poolID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			msgs, err := pg.ListDLQ(ctx, poolID, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("DLQ is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MSG ID\tPOOL\tREAD CT\tENQUEUED")
			for _, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
					m.MsgID, m.PoolID, m.ReadCt, m.EnqueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&poolID, "pool", "", "Filter by pool id")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum messages to list")

	return cmd
}

func dlqReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <msg-id>...",
		Short: "Replay dead-lettered messages back into the intake queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgIDs, err := parseMsgIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			n, err := pg.ReplayDLQ(ctx, msgIDs)
			if err != nil {
				return err
			}
			fmt.Printf("Replayed %d messages\n", n)
			return nil
		},
	}
}

func dlqDiscardCmd() *cobra.Command {
	var releaseSlots bool

	cmd := &cobra.Command{
		Use:   "discard <msg-id>...",
		Short: "Permanently discard dead-lettered messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgIDs, err := parseMsgIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pg, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			n, err := pg.DiscardDLQ(ctx, msgIDs, releaseSlots)
			if err != nil {
				return err
			}
			fmt.Printf("Discarded %d messages\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&releaseSlots, "release-slots", false,
		"Return slots still RESERVED for the discarded intents to AVAILABLE")

	return cmd
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one bridge worker invocation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pg.Close()

			led, err := ledger.New(ctx, cfg.Database.LedgerDSN)
			if err != nil {
				return err
			}
			defer led.Close()

			commits := intake.NewCommitRegistry()
			commits.Register(store.DefaultCommitRPCName, intake.LedgerCommitter(led))

			worker := intake.NewWorker(intake.WorkerDeps{
				Queue:    pg.Queue(store.IntakeQueue),
				Slots:    pg,
				Configs:  pg,
				Commits:  commits,
				Webhooks: webhook.NewClient(cfg.Worker.RequestTimeout.Std()),
				Metrics:  metrics.New("burstq"),
			}, intake.WorkerConfig{
				FallbackVisibilityTimeout: cfg.Worker.FallbackVisibilityTimeout.Std(),
				FallbackBatchSize:         cfg.Worker.FallbackBatchSize,
				Deadline:                  cfg.Worker.Deadline.Std(),
				RequestTimeout:            cfg.Worker.RequestTimeout.Std(),
			})

			sum, err := worker.DrainOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Drained %d messages (%d processed, %d dead-lettered)\n",
				sum.Total, sum.Processed, sum.DLQ)
			return nil
		},
	}
}

func parseMsgIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid msg id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
