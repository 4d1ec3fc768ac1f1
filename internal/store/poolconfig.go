package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Pool config defaults.
const (
	DefaultBatchSize         = 100
	DefaultVisibilityTimeout = 45 * time.Second
	DefaultMaxRetries        = 10
	DefaultCommitRPCName     = "finalize_transaction"
)

var ErrPoolConfigNotFound = errors.New("pool config not found")

// PoolConfig holds per-pool runtime parameters consumed by the bridge
// worker and the reaper. Config rows are independent of the existence of
// slots in the pool.
type PoolConfig struct {
	PoolID               string        `json:"pool_id"`
	BatchSize            int           `json:"batch_size"`
	VisibilityTimeout    time.Duration `json:"visibility_timeout"`
	MaxRetries           int           `json:"max_retries"`
	IsActive             bool          `json:"is_active"`
	ValidationWebhookURL string        `json:"validation_webhook_url,omitempty"`
	CommitRPCName        string        `json:"commit_rpc_name"`
	CommitWebhookURL     string        `json:"commit_webhook_url,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// DefaultPoolConfig returns the config a pool gets before an operator
// touches it.
func DefaultPoolConfig(poolID string) *PoolConfig {
	return &PoolConfig{
		PoolID:            poolID,
		BatchSize:         DefaultBatchSize,
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxRetries:        DefaultMaxRetries,
		IsActive:          true,
		CommitRPCName:     DefaultCommitRPCName,
	}
}

// normalizePoolConfig clamps out-of-range values back to defaults.
// MaxRetries may legitimately be zero: any redelivery then dead-letters.
func normalizePoolConfig(cfg *PoolConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.CommitRPCName == "" {
		cfg.CommitRPCName = DefaultCommitRPCName
	}
}

// GetPoolConfig fetches the config row for a pool. Returns
// ErrPoolConfigNotFound when no row exists.
func (s *PostgresStore) GetPoolConfig(ctx context.Context, poolID string) (*PoolConfig, error) {
	var cfg PoolConfig
	var vtSeconds int
	var validationURL, commitURL *string
	err := s.pool.QueryRow(ctx, `
		SELECT pool_id, batch_size, visibility_timeout_s, max_retries, is_active,
		       validation_webhook_url, commit_rpc_name, commit_webhook_url, updated_at
		FROM pool_config WHERE pool_id = $1
	`, poolID).Scan(&cfg.PoolID, &cfg.BatchSize, &vtSeconds, &cfg.MaxRetries, &cfg.IsActive,
		&validationURL, &cfg.CommitRPCName, &commitURL, &cfg.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPoolConfigNotFound, poolID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool config: %w", err)
	}

	cfg.VisibilityTimeout = time.Duration(vtSeconds) * time.Second
	if validationURL != nil {
		cfg.ValidationWebhookURL = *validationURL
	}
	if commitURL != nil {
		cfg.CommitWebhookURL = *commitURL
	}
	return &cfg, nil
}

// UpsertPoolConfig creates or replaces the config row for a pool. Values
// are normalized before writing.
func (s *PostgresStore) UpsertPoolConfig(ctx context.Context, cfg *PoolConfig) error {
	if cfg == nil || cfg.PoolID == "" {
		return fmt.Errorf("pool id is required")
	}
	normalizePoolConfig(cfg)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_config (
			pool_id, batch_size, visibility_timeout_s, max_retries, is_active,
			validation_webhook_url, commit_rpc_name, commit_webhook_url, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (pool_id) DO UPDATE SET
			batch_size = EXCLUDED.batch_size,
			visibility_timeout_s = EXCLUDED.visibility_timeout_s,
			max_retries = EXCLUDED.max_retries,
			is_active = EXCLUDED.is_active,
			validation_webhook_url = EXCLUDED.validation_webhook_url,
			commit_rpc_name = EXCLUDED.commit_rpc_name,
			commit_webhook_url = EXCLUDED.commit_webhook_url,
			updated_at = NOW()
	`, cfg.PoolID, cfg.BatchSize, int(cfg.VisibilityTimeout/time.Second), cfg.MaxRetries, cfg.IsActive,
		nullIfEmpty(cfg.ValidationWebhookURL), cfg.CommitRPCName, nullIfEmpty(cfg.CommitWebhookURL))
	if err != nil {
		return fmt.Errorf("upsert pool config: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
