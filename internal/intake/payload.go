// Package intake is the domain core of the burst-to-queue ledger: the claim
// operation that reserves a slot and enqueues an intent, and the bridge
// worker that drains intents into the ledger.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is the per-message processing state, embedded in the payload itself
// so crash recovery needs no side table.
type State string

const (
	StateQueued    State = "queued"
	StateValidated State = "validated"
	StateCommitted State = "committed"
)

var ErrMalformedPayload = errors.New("malformed intent payload")

// Payload is the body of an intake message: a user's claim on one slot.
// ResourceID uniquely binds the message to its slot; reusing the id resumes
// the same logical intent rather than starting a new one.
type Payload struct {
	PoolID     string `json:"pool_id"`
	ResourceID string `json:"resource_id"`
	UserID     string `json:"user_id"`
	State      State  `json:"state"`
}

// ParsePayload decodes and validates an intent payload. Structural problems
// are terminal: the caller routes them to the DLQ, never retries them.
func ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.PoolID == "" {
		return nil, fmt.Errorf("%w: missing pool_id", ErrMalformedPayload)
	}
	if p.ResourceID == "" {
		return nil, fmt.Errorf("%w: missing resource_id", ErrMalformedPayload)
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrMalformedPayload)
	}
	switch p.State {
	case "":
		p.State = StateQueued
	case StateQueued, StateValidated, StateCommitted:
	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedPayload, p.State)
	}
	return &p, nil
}

// Encode marshals the payload for the queue.
func (p *Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode intent payload: %w", err)
	}
	return data, nil
}
