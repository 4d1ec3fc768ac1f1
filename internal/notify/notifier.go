// Package notify pushes confirmed intents to realtime subscribers over
// Redis pub/sub. The push is best effort: the ledger row is the source of
// truth and a missed publish costs nothing but immediacy.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/burstq/internal/intake"
)

const channelPrefix = "burstq:confirmed:"

// Confirmation is the event published for each committed intent.
type Confirmation struct {
	PoolID      string    `json:"pool_id"`
	ResourceID  string    `json:"resource_id"`
	UserID      string    `json:"user_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// RedisNotifier publishes confirmations on a per-pool channel so pool
// subscribers only see their own traffic.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(addr, password string, db int) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisNotifier{client: client}, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// PushConfirmation publishes the confirmed intent on its pool's channel.
func (n *RedisNotifier) PushConfirmation(ctx context.Context, p *intake.Payload, confirmedAt time.Time) error {
	event := Confirmation{
		PoolID:      p.PoolID,
		ResourceID:  p.ResourceID,
		UserID:      p.UserID,
		ConfirmedAt: confirmedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	if err := n.client.Publish(ctx, channelPrefix+p.PoolID, data).Err(); err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	return nil
}

// Channel returns the pub/sub channel name for a pool, for subscribers.
func Channel(poolID string) string {
	return channelPrefix + poolID
}
