package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Slot status values.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotReserved  SlotStatus = "RESERVED"
	SlotConsumed  SlotStatus = "CONSUMED"
)

// Slot is a single unit of inventory inside a pool.
type Slot struct {
	ID        string     `json:"id"`
	PoolID    string     `json:"pool_id"`
	Status    SlotStatus `json:"status"`
	LockedBy  string     `json:"locked_by,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SlotCounts aggregates slot rows by status.
type SlotCounts struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Consumed  int64 `json:"consumed"`
}

// CreateSlots inserts n AVAILABLE slots into the pool and returns their ids.
// This is the operator seeding path.
func (s *PostgresStore) CreateSlots(ctx context.Context, poolID string, n int) ([]string, error) {
	if poolID == "" {
		return nil, fmt.Errorf("pool id is required")
	}
	if n <= 0 {
		return nil, fmt.Errorf("slot count must be positive")
	}

	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO slots (id, pool_id, status)
		SELECT unnest($1::uuid[]), $2, 'AVAILABLE'
	`, ids, poolID)
	if err != nil {
		return nil, fmt.Errorf("create slots: %w", err)
	}
	return ids, nil
}

// ClaimOne atomically reserves a single AVAILABLE slot in the pool for the
// given user and returns its id. Rows locked by concurrent claimers are
// skipped rather than waited on; ordering among concurrent callers is
// unspecified. Returns "" when no unlocked AVAILABLE slot exists.
func (s *PostgresStore) ClaimOne(ctx context.Context, poolID, userID string) (string, error) {
	if poolID == "" || userID == "" {
		return "", fmt.Errorf("pool id and user id are required")
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE slots SET
			status = 'RESERVED',
			locked_by = $2,
			locked_at = NOW()
		WHERE id = (
			SELECT id FROM slots
			WHERE pool_id = $1 AND status = 'AVAILABLE'
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id
	`, poolID, userID).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claim slot: %w", err)
	}
	return id, nil
}

// MarkConsumed transitions a slot from RESERVED to CONSUMED. The update is
// conditional: a slot that is not currently RESERVED is left untouched and
// false is returned. Lock fields are retained on the consumed row.
func (s *PostgresStore) MarkConsumed(ctx context.Context, slotID string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE slots SET status = 'CONSUMED'
		WHERE id = $1 AND status = 'RESERVED'
	`, slotID)
	if err != nil {
		return false, fmt.Errorf("mark slot consumed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReleaseSlot returns a RESERVED slot to AVAILABLE and clears its lock
// fields. Used by DLQ discard when the operator opts to free the slot.
func (s *PostgresStore) ReleaseSlot(ctx context.Context, slotID string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE slots SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL
		WHERE id = $1 AND status = 'RESERVED'
	`, slotID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReapOrphans returns to AVAILABLE every slot that has been RESERVED since
// before the threshold and has no live intent in the intake queue. Stale
// rows locked by in-flight claims are skipped so the reaper never stalls
// the claim path. Returns the number of slots reaped.
func (s *PostgresStore) ReapOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		return 0, fmt.Errorf("reap threshold must be positive")
	}
	cutoff := time.Now().UTC().Add(-threshold)

	ct, err := s.pool.Exec(ctx, `
		UPDATE slots SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL
		WHERE id IN (
			SELECT s.id FROM slots s
			WHERE s.status = 'RESERVED'
			  AND s.locked_at < $1
			  AND NOT EXISTS (
				SELECT 1 FROM queue_messages q
				WHERE q.queue_name = $2
				  AND q.payload->>'resource_id' = s.id::text
			  )
			FOR UPDATE SKIP LOCKED
		)
	`, cutoff, IntakeQueue)
	if err != nil {
		return 0, fmt.Errorf("reap orphan slots: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// GetSlot fetches a single slot row.
func (s *PostgresStore) GetSlot(ctx context.Context, slotID string) (*Slot, error) {
	var sl Slot
	var status string
	var lockedBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, pool_id, status, locked_by, locked_at, created_at
		FROM slots WHERE id = $1
	`, slotID).Scan(&sl.ID, &sl.PoolID, &status, &lockedBy, &sl.LockedAt, &sl.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("slot not found: %s", slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	sl.Status = SlotStatus(status)
	if lockedBy != nil {
		sl.LockedBy = *lockedBy
	}
	return &sl, nil
}

// CountSlots aggregates slot rows by status across all pools. poolID narrows
// the count to one pool when non-empty.
func (s *PostgresStore) CountSlots(ctx context.Context, poolID string) (*SlotCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'AVAILABLE'),
			COUNT(*) FILTER (WHERE status = 'RESERVED'),
			COUNT(*) FILTER (WHERE status = 'CONSUMED')
		FROM slots
	`
	args := []any{}
	if poolID != "" {
		query += ` WHERE pool_id = $1`
		args = append(args, poolID)
	}

	var counts SlotCounts
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&counts.Available, &counts.Reserved, &counts.Consumed); err != nil {
		return nil, fmt.Errorf("count slots: %w", err)
	}
	return &counts, nil
}
