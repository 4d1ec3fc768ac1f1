package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// The two logical queues of the intake core.
const (
	IntakeQueue = "intake_queue"
	IntakeDLQ   = "intake_dlq"
)

// Envelope is what the queue wraps around a payload: a per-queue monotone
// message id, the delivery counter, and the current visibility deadline.
type Envelope struct {
	MsgID      int64           `json:"msg_id"`
	ReadCt     int             `json:"read_ct"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	VT         time.Time       `json:"vt"`
	Payload    json.RawMessage `json:"payload"`
}

// Queue is a named handle onto the durable message queue.
type Queue struct {
	s    *PostgresStore
	name string
}

// Queue returns a handle bound to the named queue.
func (s *PostgresStore) Queue(name string) *Queue {
	return &Queue{s: s, name: name}
}

// Name returns the queue name this handle is bound to.
func (q *Queue) Name() string {
	return q.name
}

// Send appends a payload to the queue, immediately visible, and returns the
// new message id.
func (q *Queue) Send(ctx context.Context, payload []byte) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("payload is required")
	}

	var msgID int64
	err := q.s.pool.QueryRow(ctx, `
		INSERT INTO queue_messages (queue_name, payload)
		VALUES ($1, $2)
		RETURNING msg_id
	`, q.name, payload).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("send to %s: %w", q.name, err)
	}
	return msgID, nil
}

// Read leases up to max messages whose visibility deadline has passed,
// extending each deadline by vt and incrementing its delivery counter.
// Messages currently leased to another reader are skipped, not waited on.
// Returns an empty batch promptly when nothing is visible.
func (q *Queue) Read(ctx context.Context, vt time.Duration, max int) ([]Envelope, error) {
	if vt <= 0 {
		return nil, fmt.Errorf("visibility timeout must be positive")
	}
	if max <= 0 {
		return nil, fmt.Errorf("max count must be positive")
	}

	rows, err := q.s.pool.Query(ctx, `
		UPDATE queue_messages SET
			vt = NOW() + make_interval(secs => $2),
			read_ct = read_ct + 1
		WHERE msg_id IN (
			SELECT msg_id FROM queue_messages
			WHERE queue_name = $1 AND vt <= NOW()
			ORDER BY msg_id
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING msg_id, read_ct, enqueued_at, vt, payload
	`, q.name, vt.Seconds(), max)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", q.name, err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var env Envelope
		if err := rows.Scan(&env.MsgID, &env.ReadCt, &env.EnqueuedAt, &env.VT, &env.Payload); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read from %s rows: %w", q.name, err)
	}
	return out, nil
}

// Delete permanently removes messages by id. Acknowledgement path.
func (q *Queue) Delete(ctx context.Context, msgIDs []int64) error {
	if len(msgIDs) == 0 {
		return nil
	}
	_, err := q.s.pool.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE queue_name = $1 AND msg_id = ANY($2)
	`, q.name, msgIDs)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.name, err)
	}
	return nil
}

// SetPayload replaces the payload of a message in place. The worker uses it
// to persist payload state transitions before acknowledging.
func (q *Queue) SetPayload(ctx context.Context, msgID int64, payload []byte) error {
	ct, err := q.s.pool.Exec(ctx, `
		UPDATE queue_messages SET payload = $3
		WHERE queue_name = $1 AND msg_id = $2
	`, q.name, msgID, payload)
	if err != nil {
		return fmt.Errorf("set payload on %s: %w", q.name, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set payload on %s: message %d not found", q.name, msgID)
	}
	return nil
}

// MoveToDLQ sends the payload, enriched with provenance fields, to the
// dead-letter queue and deletes the source message as one logical operation.
func (q *Queue) MoveToDLQ(ctx context.Context, msgID int64, payload []byte, readCt int, reason string) error {
	enriched, err := enrichDLQPayload(payload, msgID, readCt, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enrich dlq payload: %w", err)
	}

	tx, err := q.s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dlq move: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_messages (queue_name, payload)
		VALUES ($1, $2)
	`, IntakeDLQ, enriched); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE queue_name = $1 AND msg_id = $2
	`, q.name, msgID); err != nil {
		return fmt.Errorf("delete dlq source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dlq move: %w", err)
	}
	return nil
}

// Depth returns the number of messages currently in the queue, leased or
// not. Global by design: per-pool depth would require indexing payload
// fields on the hot path.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_messages WHERE queue_name = $1
	`, q.name).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("depth of %s: %w", q.name, err)
	}
	return depth, nil
}

// enrichDLQPayload wraps the original payload with DLQ provenance fields.
func enrichDLQPayload(payload []byte, msgID int64, readCt int, reason string, now time.Time) ([]byte, error) {
	fields := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			// A structurally broken payload still gets dead-lettered; keep
			// the raw bytes under their own key so nothing is lost.
			fields = map[string]any{"raw_payload": string(payload)}
		}
	}
	fields["original_msg_id"] = msgID
	fields["final_read_ct"] = readCt
	fields["routed_to_dlq_at"] = now.Format(time.RFC3339Nano)
	if reason != "" {
		fields["failure_reason"] = reason
	}
	return json.Marshal(fields)
}

// stripDLQEnrichment removes the DLQ provenance fields, recovering the
// original payload for replay.
func stripDLQEnrichment(payload []byte) ([]byte, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("parse dlq payload: %w", err)
	}
	delete(fields, "original_msg_id")
	delete(fields, "final_read_ct")
	delete(fields, "routed_to_dlq_at")
	delete(fields, "failure_reason")
	return json.Marshal(fields)
}
