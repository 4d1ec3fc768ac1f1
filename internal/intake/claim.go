package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/burstq/internal/logging"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
)

// SlotClaimer reserves slots. Implemented by the slot store.
type SlotClaimer interface {
	ClaimOne(ctx context.Context, poolID, userID string) (string, error)
}

// IntentSender appends intent payloads to the intake queue.
type IntentSender interface {
	Send(ctx context.Context, payload []byte) (int64, error)
}

// ConfigSource resolves per-pool runtime config. A missing pool must
// surface as store.ErrPoolConfigNotFound.
type ConfigSource interface {
	GetPoolConfig(ctx context.Context, poolID string) (*store.PoolConfig, error)
}

// Claimer is the composite claim primitive: reserve one slot, enqueue the
// intent carrying its id.
type Claimer struct {
	slots   SlotClaimer
	queue   IntentSender
	configs ConfigSource
	metrics *metrics.Metrics
}

func NewClaimer(slots SlotClaimer, queue IntentSender, configs ConfigSource, m *metrics.Metrics) *Claimer {
	return &Claimer{slots: slots, queue: queue, configs: configs, metrics: m}
}

// ClaimResourceAndQueue reserves one slot in the pool for the user and
// enqueues a queued-state intent bound to it. Returns "" when the pool is
// sold out or inactive; that is never an error. The two steps are not
// jointly transactional: if the enqueue fails the slot stays RESERVED and
// the reaper returns it after the orphan threshold.
func (c *Claimer) ClaimResourceAndQueue(ctx context.Context, poolID, userID string) (string, error) {
	if poolID == "" || userID == "" {
		return "", fmt.Errorf("pool id and user id are required")
	}

	cfg, err := c.configs.GetPoolConfig(ctx, poolID)
	switch {
	case err == nil:
		if !cfg.IsActive {
			c.metrics.ObserveClaim(poolID, "sold_out")
			return "", nil
		}
	case errors.Is(err, store.ErrPoolConfigNotFound):
		// A pool without a config row runs on defaults; the claim proceeds.
	default:
		c.metrics.ObserveClaim(poolID, "error")
		return "", fmt.Errorf("resolve pool config: %w", err)
	}

	slotID, err := c.slots.ClaimOne(ctx, poolID, userID)
	if err != nil {
		c.metrics.ObserveClaim(poolID, "error")
		return "", err
	}
	if slotID == "" {
		c.metrics.ObserveClaim(poolID, "sold_out")
		return "", nil
	}

	payload := &Payload{PoolID: poolID, ResourceID: slotID, UserID: userID, State: StateQueued}
	data, err := payload.Encode()
	if err != nil {
		return "", err
	}
	if _, err := c.queue.Send(ctx, data); err != nil {
		// Slot stays RESERVED with no matching intent; the reaper is the
		// backstop that returns it to the pool.
		logging.Op().Error("enqueue intent failed after slot claim",
			"pool", poolID, "resource", slotID, "error", err)
		c.metrics.ObserveClaim(poolID, "error")
		return "", fmt.Errorf("enqueue intent: %w", err)
	}

	c.metrics.ObserveClaim(poolID, "claimed")
	return slotID, nil
}
