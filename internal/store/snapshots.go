package store

import (
	"context"
	"fmt"
	"time"
)

// MetricsSnapshot is one append-only row of operational gauges: global
// queue depths and slot counts by status.
type MetricsSnapshot struct {
	ID             int64     `json:"id"`
	QueueDepth     int64     `json:"queue_depth"`
	DLQDepth       int64     `json:"dlq_depth"`
	SlotsAvailable int64     `json:"slots_available"`
	SlotsReserved  int64     `json:"slots_reserved"`
	SlotsConsumed  int64     `json:"slots_consumed"`
	TakenAt        time.Time `json:"taken_at"`
}

// RecordMetricsSnapshot computes the current depths and slot counts and
// appends them as a snapshot row.
func (s *PostgresStore) RecordMetricsSnapshot(ctx context.Context) (*MetricsSnapshot, error) {
	queueDepth, err := s.Queue(IntakeQueue).Depth(ctx)
	if err != nil {
		return nil, err
	}
	dlqDepth, err := s.Queue(IntakeDLQ).Depth(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.CountSlots(ctx, "")
	if err != nil {
		return nil, err
	}

	snap := &MetricsSnapshot{
		QueueDepth:     queueDepth,
		DLQDepth:       dlqDepth,
		SlotsAvailable: counts.Available,
		SlotsReserved:  counts.Reserved,
		SlotsConsumed:  counts.Consumed,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO metrics_snapshots (
			queue_depth, dlq_depth, slots_available, slots_reserved, slots_consumed
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, taken_at
	`, snap.QueueDepth, snap.DLQDepth, snap.SlotsAvailable, snap.SlotsReserved, snap.SlotsConsumed).
		Scan(&snap.ID, &snap.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("record metrics snapshot: %w", err)
	}
	return snap, nil
}
