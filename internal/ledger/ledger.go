// Package ledger is the authoritative store of confirmed records. It lives
// in a datastore separate from the intake state; the only write primitive
// is an insert that is idempotent on the resource id, which is what makes
// at-least-once delivery safe upstream.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRecordNotFound = errors.New("ledger record not found")

// Record is one confirmed intent, keyed by the resource id.
type Record struct {
	ResourceID  string    `json:"resource_id"`
	PoolID      string    `json:"pool_id"`
	UserID      string    `json:"user_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("ledger DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create ledger pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("ledger not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_records (
			resource_id UUID PRIMARY KEY,
			pool_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			confirmed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// InsertIfAbsent records a confirmed intent. Inserting the same resource id
// twice leaves a single row; redelivered commits are no-ops.
func (s *Store) InsertIfAbsent(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ResourceID == "" {
		return fmt.Errorf("resource id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_records (resource_id, pool_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id) DO NOTHING
	`, rec.ResourceID, rec.PoolID, rec.UserID)
	if err != nil {
		return fmt.Errorf("insert ledger record: %w", err)
	}
	return nil
}

// Get fetches a confirmed record by resource id.
func (s *Store) Get(ctx context.Context, resourceID string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT resource_id, pool_id, user_id, confirmed_at
		FROM ledger_records WHERE resource_id = $1
	`, resourceID).Scan(&rec.ResourceID, &rec.PoolID, &rec.UserID, &rec.ConfirmedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return &rec, nil
}

// Count returns the number of confirmed records, optionally for one pool.
func (s *Store) Count(ctx context.Context, poolID string) (int64, error) {
	query := `SELECT COUNT(*) FROM ledger_records`
	args := []any{}
	if poolID != "" {
		query += ` WHERE pool_id = $1`
		args = append(args, poolID)
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger records: %w", err)
	}
	return n, nil
}
