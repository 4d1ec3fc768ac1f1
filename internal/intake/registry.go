package intake

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/burstq/internal/ledger"
)

// CommitFunc finalizes a validated intent in the system of record. It must
// be idempotent on the payload's resource id: committing the same intent
// twice leaves a single record.
type CommitFunc func(ctx context.Context, p *Payload) error

// CommitRegistry maps pool-configured RPC names to in-process commit
// functions. The webhook commit path bypasses the registry entirely.
type CommitRegistry struct {
	mu    sync.RWMutex
	funcs map[string]CommitFunc
}

func NewCommitRegistry() *CommitRegistry {
	return &CommitRegistry{funcs: make(map[string]CommitFunc)}
}

// Register binds a commit function to an RPC name, replacing any previous
// binding.
func (r *CommitRegistry) Register(name string, fn CommitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve returns the commit function bound to the name, or nil.
func (r *CommitRegistry) Resolve(name string) CommitFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name]
}

// LedgerCommitter builds the default commit function: an insert into the
// ledger store that is idempotent on the resource id.
func LedgerCommitter(l *ledger.Store) CommitFunc {
	return func(ctx context.Context, p *Payload) error {
		return l.InsertIfAbsent(ctx, &ledger.Record{
			ResourceID:  p.ResourceID,
			PoolID:      p.PoolID,
			UserID:      p.UserID,
			ConfirmedAt: time.Now().UTC(),
		})
	}
}
