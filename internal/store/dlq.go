package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// DLQMessage is a dead-lettered intent as seen by the admin surface.
type DLQMessage struct {
	Envelope
	PoolID string `json:"pool_id,omitempty"`
}

// ListDLQ returns dead-lettered messages, oldest first, optionally filtered
// by pool id.
func (s *PostgresStore) ListDLQ(ctx context.Context, poolID string, limit int) ([]DLQMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT msg_id, read_ct, enqueued_at, vt, payload
		FROM queue_messages
		WHERE queue_name = $1
	`
	args := []any{IntakeDLQ}
	if poolID != "" {
		args = append(args, poolID)
		query += ` AND payload->>'pool_id' = $2`
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY msg_id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	defer rows.Close()

	var out []DLQMessage
	for rows.Next() {
		var msg DLQMessage
		if err := rows.Scan(&msg.MsgID, &msg.ReadCt, &msg.EnqueuedAt, &msg.VT, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan dlq message: %w", err)
		}
		var fields struct {
			PoolID string `json:"pool_id"`
		}
		if err := json.Unmarshal(msg.Payload, &fields); err == nil {
			msg.PoolID = fields.PoolID
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dlq rows: %w", err)
	}
	return out, nil
}

// ReplayDLQ re-sends the selected dead-lettered messages back into the
// intake queue, stripped of their DLQ provenance, and deletes them from the
// DLQ. The slot stays RESERVED throughout: replay resumes the same logical
// intent. Returns the number of messages replayed.
func (s *PostgresStore) ReplayDLQ(ctx context.Context, msgIDs []int64) (int, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin dlq replay: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT msg_id, payload FROM queue_messages
		WHERE queue_name = $1 AND msg_id = ANY($2)
		FOR UPDATE
	`, IntakeDLQ, msgIDs)
	if err != nil {
		return 0, fmt.Errorf("select dlq messages: %w", err)
	}

	type dlqRow struct {
		msgID   int64
		payload []byte
	}
	var selected []dlqRow
	for rows.Next() {
		var r dlqRow
		if err := rows.Scan(&r.msgID, &r.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan dlq message: %w", err)
		}
		selected = append(selected, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("select dlq rows: %w", err)
	}

	replayed := 0
	for _, r := range selected {
		original, err := stripDLQEnrichment(r.payload)
		if err != nil {
			return 0, fmt.Errorf("replay message %d: %w", r.msgID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_messages (queue_name, payload)
			VALUES ($1, $2)
		`, IntakeQueue, original); err != nil {
			return 0, fmt.Errorf("replay message %d: %w", r.msgID, err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM queue_messages WHERE queue_name = $1 AND msg_id = $2
		`, IntakeDLQ, r.msgID); err != nil {
			return 0, fmt.Errorf("delete replayed message %d: %w", r.msgID, err)
		}
		replayed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dlq replay: %w", err)
	}
	return replayed, nil
}

// DiscardDLQ permanently deletes the selected dead-lettered messages. When
// releaseSlots is set, slots still RESERVED for the discarded intents are
// returned to AVAILABLE so discarded inventory is not leaked forever.
// Returns the number of messages discarded.
func (s *PostgresStore) DiscardDLQ(ctx context.Context, msgIDs []int64, releaseSlots bool) (int, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin dlq discard: %w", err)
	}
	defer tx.Rollback(ctx)

	if releaseSlots {
		if _, err := tx.Exec(ctx, `
			UPDATE slots SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL
			WHERE status = 'RESERVED' AND id::text IN (
				SELECT payload->>'resource_id' FROM queue_messages
				WHERE queue_name = $1 AND msg_id = ANY($2)
				  AND payload->>'resource_id' IS NOT NULL
			)
		`, IntakeDLQ, msgIDs); err != nil {
			return 0, fmt.Errorf("release discarded slots: %w", err)
		}
	}

	ct, err := tx.Exec(ctx, `
		DELETE FROM queue_messages WHERE queue_name = $1 AND msg_id = ANY($2)
	`, IntakeDLQ, msgIDs)
	if err != nil {
		return 0, fmt.Errorf("discard dlq messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dlq discard: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
