package store

import (
	"testing"
	"time"
)

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig("drop-1")

	if cfg.PoolID != "drop-1" {
		t.Errorf("expected drop-1, got %s", cfg.PoolID)
	}
	if !cfg.IsActive {
		t.Error("pools default to active")
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultBatchSize, cfg.BatchSize)
	}
	if cfg.VisibilityTimeout != DefaultVisibilityTimeout {
		t.Errorf("expected %s visibility timeout, got %s", DefaultVisibilityTimeout, cfg.VisibilityTimeout)
	}
	if cfg.CommitRPCName != DefaultCommitRPCName {
		t.Errorf("expected %s, got %s", DefaultCommitRPCName, cfg.CommitRPCName)
	}
}

func TestNormalizePoolConfig(t *testing.T) {
	cfg := &PoolConfig{
		PoolID:            "drop-1",
		BatchSize:         -5,
		VisibilityTimeout: 0,
		MaxRetries:        -1,
	}
	normalizePoolConfig(cfg)

	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("expected default batch size, got %d", cfg.BatchSize)
	}
	if cfg.VisibilityTimeout != DefaultVisibilityTimeout {
		t.Errorf("expected default visibility timeout, got %s", cfg.VisibilityTimeout)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected default max retries, got %d", cfg.MaxRetries)
	}
	if cfg.CommitRPCName != DefaultCommitRPCName {
		t.Errorf("expected default commit rpc, got %s", cfg.CommitRPCName)
	}
}

func TestNormalizePoolConfig_ZeroRetriesIsValid(t *testing.T) {
	cfg := DefaultPoolConfig("drop-1")
	cfg.MaxRetries = 0
	cfg.VisibilityTimeout = 90 * time.Second
	normalizePoolConfig(cfg)

	// Zero means any redelivery dead-letters; it must not be clamped.
	if cfg.MaxRetries != 0 {
		t.Errorf("zero max retries must survive normalization, got %d", cfg.MaxRetries)
	}
	if cfg.VisibilityTimeout != 90*time.Second {
		t.Errorf("in-range values must pass through, got %s", cfg.VisibilityTimeout)
	}
}
