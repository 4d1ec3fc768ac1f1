package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
)

// MessageQueue is the slice of the intake queue the worker drives.
// Implemented by store.Queue bound to the intake queue.
type MessageQueue interface {
	Read(ctx context.Context, vt time.Duration, max int) ([]store.Envelope, error)
	Delete(ctx context.Context, msgIDs []int64) error
	SetPayload(ctx context.Context, msgID int64, payload []byte) error
	MoveToDLQ(ctx context.Context, msgID int64, payload []byte, readCt int, reason string) error
}

// SlotMarker finalizes slots after a successful commit.
type SlotMarker interface {
	MarkConsumed(ctx context.Context, slotID string) (bool, error)
}

// WebhookPoster delivers a payload to an operator-configured URL with the
// resource id as idempotency key. Implemented by webhook.Client.
type WebhookPoster interface {
	Post(ctx context.Context, url, idempotencyKey string, body []byte) error
}

// ConfirmationPusher publishes confirmed intents to subscribers. Push
// failures never affect the drain outcome.
type ConfirmationPusher interface {
	PushConfirmation(ctx context.Context, p *Payload, confirmedAt time.Time) error
}

// WorkerConfig holds the bridge worker's invocation-level settings. The
// visibility timeout and batch size are bootstrap fallbacks only; once a
// message's pool config is resolved, per-pool values govern its retries.
type WorkerConfig struct {
	FallbackVisibilityTimeout time.Duration
	FallbackBatchSize         int
	// Deadline caps one invocation's wall time so it finishes ahead of a
	// platform-imposed limit. New messages stop being started once it
	// passes; acknowledged work is flushed.
	Deadline       time.Duration
	RequestTimeout time.Duration
}

// WorkerDeps are the worker's collaborators.
type WorkerDeps struct {
	Queue    MessageQueue
	Slots    SlotMarker
	Configs  ConfigSource
	Commits  *CommitRegistry
	Webhooks WebhookPoster
	Notifier ConfirmationPusher // optional
	Metrics  *metrics.Metrics   // optional
}

// Summary is the structured result of one drain invocation.
type Summary struct {
	Processed int `json:"processed"`
	DLQ       int `json:"dlq"`
	Total     int `json:"total"`
}

// Worker drains the intake queue in batches, relaying validated intents to
// the ledger. Safe to run concurrently with itself: two invocations lease
// disjoint batches.
type Worker struct {
	queue    MessageQueue
	slots    SlotMarker
	configs  ConfigSource
	commits  *CommitRegistry
	webhooks WebhookPoster
	notifier ConfirmationPusher
	metrics  *metrics.Metrics
	cfg      WorkerConfig
	now      func() time.Time
}

func NewWorker(deps WorkerDeps, cfg WorkerConfig) *Worker {
	if cfg.FallbackVisibilityTimeout <= 0 {
		cfg.FallbackVisibilityTimeout = store.DefaultVisibilityTimeout
	}
	if cfg.FallbackBatchSize <= 0 {
		cfg.FallbackBatchSize = store.DefaultBatchSize
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 50 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Worker{
		queue:    deps.Queue,
		slots:    deps.Slots,
		configs:  deps.Configs,
		commits:  deps.Commits,
		webhooks: deps.Webhooks,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

type outcome int

const (
	// outcomeRequeued: transient failure, message left leased; it becomes
	// visible again when the lease expires.
	outcomeRequeued outcome = iota
	outcomeProcessed
	outcomeDLQ
)

// DrainOnce leases one batch off the intake queue and processes it to
// completion or the wall-clock deadline, whichever comes first. A queue
// read failure is fatal for the invocation; everything downstream degrades
// per message.
func (w *Worker) DrainOnce(ctx context.Context) (Summary, error) {
	start := w.now()
	deadline := start.Add(w.cfg.Deadline)

	batch, err := w.queue.Read(ctx, w.cfg.FallbackVisibilityTimeout, w.cfg.FallbackBatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("read intake queue: %w", err)
	}

	sum := Summary{Total: len(batch)}
	if len(batch) == 0 {
		return sum, nil
	}

	// Per-pool config memoized for the invocation.
	cfgs := make(map[string]*store.PoolConfig)
	ack := make([]int64, 0, len(batch))

	for _, env := range batch {
		if !w.now().Before(deadline) {
			logging.Op().Warn("drain deadline reached",
				"acked", len(ack), "remaining", sum.Total-len(ack)-sum.DLQ)
			break
		}
		switch w.process(ctx, env, cfgs) {
		case outcomeProcessed:
			ack = append(ack, env.MsgID)
			sum.Processed++
		case outcomeDLQ:
			sum.DLQ++
		case outcomeRequeued:
			// Leave it leased; it redelivers after the visibility timeout.
		}
	}

	if len(ack) > 0 {
		if err := w.queue.Delete(ctx, ack); err != nil {
			// Not fatal: the acked messages redeliver, and the ledger
			// insert is idempotent on the resource id, so they settle as
			// no-ops on the next drain.
			logging.Op().Error("acknowledge drained messages failed",
				"count", len(ack), "error", err)
		}
	}

	w.metrics.ObserveDrain(sum.Processed, sum.DLQ, sum.Total, w.now().Sub(start))
	return sum, nil
}

func (w *Worker) process(ctx context.Context, env store.Envelope, cfgs map[string]*store.PoolConfig) outcome {
	p, err := ParsePayload(env.Payload)
	if err != nil {
		return w.deadLetter(ctx, env, err.Error())
	}

	cfg, ok := cfgs[p.PoolID]
	if !ok {
		cfg, err = w.configs.GetPoolConfig(ctx, p.PoolID)
		if errors.Is(err, store.ErrPoolConfigNotFound) {
			return w.deadLetter(ctx, env, "pool config missing: "+p.PoolID)
		}
		if err != nil {
			logging.Op().Error("resolve pool config failed", "pool", p.PoolID, "error", err)
			return outcomeRequeued
		}
		cfgs[p.PoolID] = cfg
	}

	if !cfg.IsActive {
		return w.deadLetter(ctx, env, "pool inactive: "+p.PoolID)
	}
	if env.ReadCt > cfg.MaxRetries {
		return w.deadLetter(ctx, env, fmt.Sprintf(
			"retry budget exhausted: read_ct %d > max_retries %d", env.ReadCt, cfg.MaxRetries))
	}
	if cfg.CommitWebhookURL == "" && w.commits.Resolve(cfg.CommitRPCName) == nil {
		return w.deadLetter(ctx, env, "unknown commit rpc: "+cfg.CommitRPCName)
	}

	if p.State == StateQueued {
		if cfg.ValidationWebhookURL != "" {
			if err := w.post(ctx, "validation", cfg.ValidationWebhookURL, p); err != nil {
				logging.Op().Warn("validation failed, will redeliver",
					"msg", env.MsgID, "resource", p.ResourceID, "error", err)
				return outcomeRequeued
			}
		}
		// No validator configured means vacuously validated.
		if err := w.advance(ctx, env.MsgID, p, StateValidated); err != nil {
			logging.Op().Warn("persist validated state failed, will redeliver",
				"msg", env.MsgID, "resource", p.ResourceID, "error", err)
			return outcomeRequeued
		}
	}

	if err := w.commit(ctx, cfg, p); err != nil {
		logging.Op().Warn("commit failed, will redeliver",
			"msg", env.MsgID, "resource", p.ResourceID, "error", err)
		return outcomeRequeued
	}

	if p.State != StateCommitted {
		if err := w.advance(ctx, env.MsgID, p, StateCommitted); err != nil {
			// The commit is already durable and idempotent; ack proceeds.
			// A crash before the ack redelivers the message as validated
			// and the re-commit is a no-op.
			logging.Op().Warn("persist committed state failed",
				"msg", env.MsgID, "resource", p.ResourceID, "error", err)
		}
	}

	consumed, err := w.slots.MarkConsumed(ctx, p.ResourceID)
	if err != nil {
		// Non-fatal: the ledger is authoritative. The reaper reconciles
		// the slot if needed.
		logging.Op().Error("mark slot consumed failed", "resource", p.ResourceID, "error", err)
	} else if !consumed {
		logging.Op().Debug("slot not in RESERVED state, already handled", "resource", p.ResourceID)
	}

	if w.notifier != nil {
		if err := w.notifier.PushConfirmation(ctx, p, w.now().UTC()); err != nil {
			logging.Op().Warn("confirmation push failed", "resource", p.ResourceID, "error", err)
		}
	}

	return outcomeProcessed
}

// advance persists a payload state transition before anything downstream
// can observe it. p is mutated only on success.
func (w *Worker) advance(ctx context.Context, msgID int64, p *Payload, next State) error {
	prev := p.State
	p.State = next
	data, err := p.Encode()
	if err != nil {
		p.State = prev
		return err
	}
	if err := w.queue.SetPayload(ctx, msgID, data); err != nil {
		p.State = prev
		return err
	}
	return nil
}

// commit finalizes the intent via the pool's configured path: webhook when
// a commit URL is set, otherwise the registered in-process RPC.
func (w *Worker) commit(ctx context.Context, cfg *store.PoolConfig, p *Payload) error {
	if cfg.CommitWebhookURL != "" {
		return w.post(ctx, "commit", cfg.CommitWebhookURL, p)
	}

	fn := w.commits.Resolve(cfg.CommitRPCName)
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()
	if err := fn(callCtx, p); err != nil {
		return fmt.Errorf("commit rpc %s: %w", cfg.CommitRPCName, err)
	}
	return nil
}

func (w *Worker) post(ctx context.Context, kind, url string, p *Payload) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	start := w.now()
	err = w.webhooks.Post(callCtx, url, p.ResourceID, body)
	w.metrics.ObserveWebhook(kind, w.now().Sub(start), err == nil)
	return err
}

// deadLetter routes a message to the DLQ with its failure reason. If the
// move itself fails the message stays leased and redelivers; the terminal
// condition will hold again on the next attempt.
func (w *Worker) deadLetter(ctx context.Context, env store.Envelope, reason string) outcome {
	if err := w.queue.MoveToDLQ(ctx, env.MsgID, env.Payload, env.ReadCt, reason); err != nil {
		logging.Op().Error("dlq move failed", "msg", env.MsgID, "error", err)
		return outcomeRequeued
	}
	logging.Op().Warn("message dead-lettered", "msg", env.MsgID, "read_ct", env.ReadCt, "reason", reason)
	return outcomeDLQ
}
