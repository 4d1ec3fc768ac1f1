// Package scheduler runs the background cadences of the intake core: the
// orphan reaper and the metrics snapshot job. Drain scheduling stays
// external; the worker only exposes a drain-once entry point.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
)

// Config holds the cadences and the reap threshold. The threshold should
// comfortably exceed visibility_timeout * max_retries of every pool so the
// reaper never races a legitimate long-running retry.
type Config struct {
	ReaperCadence   string
	ReapThreshold   time.Duration
	SnapshotCadence string
	JobTimeout      time.Duration
}

// Scheduler owns the cron entries for the background jobs.
type Scheduler struct {
	cron    *cron.Cron
	store   *store.PostgresStore
	metrics *metrics.Metrics
	cfg     Config
}

// New creates a Scheduler; Start registers the entries and begins running.
func New(s *store.PostgresStore, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.ReaperCadence == "" {
		cfg.ReaperCadence = "@every 2m"
	}
	if cfg.ReapThreshold <= 0 {
		cfg.ReapThreshold = 30 * time.Minute
	}
	if cfg.SnapshotCadence == "" {
		cfg.SnapshotCadence = "@every 1m"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		store:   s,
		metrics: m,
		cfg:     cfg,
	}
}

// Start registers the reaper and snapshot entries and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.cfg.ReapThreshold < store.DefaultVisibilityTimeout*time.Duration(store.DefaultMaxRetries) {
		logging.Op().Warn("reap threshold below default visibility_timeout * max_retries; "+
			"in-flight retries may be reaped",
			"threshold", s.cfg.ReapThreshold)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReaperCadence, s.reap); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.SnapshotCadence, s.snapshot); err != nil {
		return err
	}
	s.cron.Start()
	logging.Op().Info("background jobs started",
		"reaper_cadence", s.cfg.ReaperCadence,
		"reap_threshold", s.cfg.ReapThreshold,
		"snapshot_cadence", s.cfg.SnapshotCadence)
	return nil
}

// Stop stops the cron loop; running jobs finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	reaped, err := s.store.ReapOrphans(ctx, s.cfg.ReapThreshold)
	if err != nil {
		logging.Op().Error("reap orphan slots failed", "error", err)
		return
	}
	s.metrics.AddReaped(reaped)
	if reaped > 0 {
		logging.Op().Info("orphaned slots reaped", "count", reaped)
	}
}

func (s *Scheduler) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	snap, err := s.store.RecordMetricsSnapshot(ctx)
	if err != nil {
		logging.Op().Error("metrics snapshot failed", "error", err)
		return
	}
	s.metrics.SetQueueDepth(store.IntakeQueue, snap.QueueDepth)
	s.metrics.SetQueueDepth(store.IntakeDLQ, snap.DLQDepth)
	s.metrics.SetSlotStatus(string(store.SlotAvailable), snap.SlotsAvailable)
	s.metrics.SetSlotStatus(string(store.SlotReserved), snap.SlotsReserved)
	s.metrics.SetSlotStatus(string(store.SlotConsumed), snap.SlotsConsumed)
	logging.Op().Debug("metrics snapshot recorded",
		"queue_depth", snap.QueueDepth, "dlq_depth", snap.DLQDepth)
}
