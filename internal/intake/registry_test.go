package intake

import (
	"context"
	"testing"
)

func TestCommitRegistry_RegisterAndResolve(t *testing.T) {
	r := NewCommitRegistry()

	if fn := r.Resolve("finalize_transaction"); fn != nil {
		t.Fatal("expected nil for unregistered name")
	}

	called := false
	r.Register("finalize_transaction", func(ctx context.Context, p *Payload) error {
		called = true
		return nil
	})

	fn := r.Resolve("finalize_transaction")
	if fn == nil {
		t.Fatal("expected registered function")
	}
	if err := fn(context.Background(), &Payload{}); err != nil {
		t.Fatalf("commit func failed: %v", err)
	}
	if !called {
		t.Fatal("commit func not invoked")
	}
}

func TestCommitRegistry_ReplacesBinding(t *testing.T) {
	r := NewCommitRegistry()
	r.Register("commit", func(ctx context.Context, p *Payload) error { return nil })

	replaced := false
	r.Register("commit", func(ctx context.Context, p *Payload) error {
		replaced = true
		return nil
	})

	r.Resolve("commit")(context.Background(), &Payload{})
	if !replaced {
		t.Fatal("expected second registration to replace the first")
	}
}
