package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oriys/burstq/internal/store"
)

type fakeQueue struct {
	batch     []store.Envelope
	readErr   error
	deleted   []int64
	deleteErr error
	payloads  map[int64][]byte
	setErr    error
	dlq       map[int64]string
	dlqErr    error
}

func (f *fakeQueue) Read(ctx context.Context, vt time.Duration, max int) ([]store.Envelope, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.batch, nil
}

func (f *fakeQueue) Delete(ctx context.Context, msgIDs []int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, msgIDs...)
	return nil
}

func (f *fakeQueue) SetPayload(ctx context.Context, msgID int64, payload []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.payloads == nil {
		f.payloads = make(map[int64][]byte)
	}
	f.payloads[msgID] = payload
	return nil
}

func (f *fakeQueue) MoveToDLQ(ctx context.Context, msgID int64, payload []byte, readCt int, reason string) error {
	if f.dlqErr != nil {
		return f.dlqErr
	}
	if f.dlq == nil {
		f.dlq = make(map[int64]string)
	}
	f.dlq[msgID] = reason
	return nil
}

type fakeMarker struct {
	consumed []string
	result   bool
	err      error
}

func (f *fakeMarker) MarkConsumed(ctx context.Context, slotID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.consumed = append(f.consumed, slotID)
	return f.result, nil
}

type postCall struct {
	url  string
	key  string
	body []byte
}

type fakePoster struct {
	posts []postCall
	errs  map[string]error
}

func (f *fakePoster) Post(ctx context.Context, url, idempotencyKey string, body []byte) error {
	if err := f.errs[url]; err != nil {
		return err
	}
	f.posts = append(f.posts, postCall{url: url, key: idempotencyKey, body: body})
	return nil
}

type fakeNotifier struct {
	pushed []string
	err    error
}

func (f *fakeNotifier) PushConfirmation(ctx context.Context, p *Payload, confirmedAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, p.ResourceID)
	return nil
}

type workerFixture struct {
	queue    *fakeQueue
	slots    *fakeMarker
	configs  *fakeConfigs
	commits  *CommitRegistry
	poster   *fakePoster
	notifier *fakeNotifier
	commited []string
	worker   *Worker
}

func newFixture(batch ...store.Envelope) *workerFixture {
	fx := &workerFixture{
		queue:    &fakeQueue{batch: batch},
		slots:    &fakeMarker{result: true},
		configs:  &fakeConfigs{cfgs: map[string]*store.PoolConfig{"drop-1": store.DefaultPoolConfig("drop-1")}},
		commits:  NewCommitRegistry(),
		poster:   &fakePoster{},
		notifier: &fakeNotifier{},
	}
	fx.commits.Register(store.DefaultCommitRPCName, func(ctx context.Context, p *Payload) error {
		fx.commited = append(fx.commited, p.ResourceID)
		return nil
	})
	fx.worker = NewWorker(WorkerDeps{
		Queue:    fx.queue,
		Slots:    fx.slots,
		Configs:  fx.configs,
		Commits:  fx.commits,
		Webhooks: fx.poster,
		Notifier: fx.notifier,
	}, WorkerConfig{})
	return fx
}

func envelope(t *testing.T, msgID int64, readCt int, p Payload) store.Envelope {
	t.Helper()
	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return store.Envelope{MsgID: msgID, ReadCt: readCt, Payload: data}
}

func intent(state State) Payload {
	return Payload{PoolID: "drop-1", ResourceID: "slot-1", UserID: "u1", State: state}
}

func TestDrainOnce_HappyPath(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 || sum.DLQ != 0 || sum.Total != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(fx.queue.deleted) != 1 || fx.queue.deleted[0] != 1 {
		t.Fatalf("expected message 1 acked, got %v", fx.queue.deleted)
	}
	if len(fx.commited) != 1 || fx.commited[0] != "slot-1" {
		t.Fatalf("expected one commit for slot-1, got %v", fx.commited)
	}
	if len(fx.slots.consumed) != 1 || fx.slots.consumed[0] != "slot-1" {
		t.Fatalf("expected slot-1 marked consumed, got %v", fx.slots.consumed)
	}
	if len(fx.notifier.pushed) != 1 {
		t.Fatalf("expected one confirmation push, got %d", len(fx.notifier.pushed))
	}

	// The final persisted state must be committed so redelivery is a no-op.
	p, err := ParsePayload(fx.queue.payloads[1])
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateCommitted {
		t.Fatalf("expected committed state persisted, got %s", p.State)
	}
}

func TestDrainOnce_EmptyQueue(t *testing.T) {
	fx := newFixture()

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Total != 0 || sum.Processed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDrainOnce_ReadErrorIsFatal(t *testing.T) {
	fx := newFixture()
	fx.queue.readErr = errors.New("queue unavailable")

	if _, err := fx.worker.DrainOnce(context.Background()); err == nil {
		t.Fatal("expected error when the queue read fails")
	}
}

func TestDrainOnce_MalformedPayloadDeadLetters(t *testing.T) {
	fx := newFixture(store.Envelope{MsgID: 7, ReadCt: 1, Payload: []byte(`{"garbage":`)})

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 1 || sum.Processed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if _, ok := fx.queue.dlq[7]; !ok {
		t.Fatal("expected message 7 in the DLQ")
	}
}

func TestDrainOnce_MissingPoolConfigDeadLetters(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, Payload{
		PoolID: "no-such-pool", ResourceID: "slot-1", UserID: "u1", State: StateQueued,
	}))

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 1 {
		t.Fatalf("expected dead-letter, got %+v", sum)
	}
}

func TestDrainOnce_ConfigLookupErrorRequeues(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.err = errors.New("db down")

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 0 || sum.DLQ != 0 {
		t.Fatalf("transient failure must requeue, got %+v", sum)
	}
	if len(fx.queue.deleted) != 0 {
		t.Fatal("requeued message must not be acked")
	}
}

func TestDrainOnce_InactivePoolDeadLetters(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.cfgs["drop-1"].IsActive = false

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 1 {
		t.Fatalf("expected dead-letter for inactive pool, got %+v", sum)
	}
}

func TestDrainOnce_RetryBudgetExhausted(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.MaxRetries = 3
	fx := newFixture(envelope(t, 9, 4, intent(StateQueued)))
	fx.configs.cfgs["drop-1"] = cfg

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 1 {
		t.Fatalf("expected dead-letter, got %+v", sum)
	}
	if reason := fx.queue.dlq[9]; !strings.Contains(reason, "retry budget exhausted") {
		t.Fatalf("unexpected dlq reason: %q", reason)
	}
}

func TestDrainOnce_UnknownCommitRPCDeadLetters(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.CommitRPCName = "no_such_rpc"
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.cfgs["drop-1"] = cfg

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 1 {
		t.Fatalf("expected dead-letter for unknown commit rpc, got %+v", sum)
	}
}

func TestDrainOnce_ValidationFailureRequeues(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.ValidationWebhookURL = "http://validator.internal/check"
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.cfgs["drop-1"] = cfg
	fx.poster.errs = map[string]error{cfg.ValidationWebhookURL: errors.New("503")}

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 0 || sum.DLQ != 0 {
		t.Fatalf("validation failure must requeue, got %+v", sum)
	}
	if len(fx.queue.payloads) != 0 {
		t.Fatal("state must not advance past a failed validation")
	}
	if len(fx.commited) != 0 {
		t.Fatal("commit must not run before validation succeeds")
	}
}

func TestDrainOnce_ValidatedMessageSkipsValidation(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.ValidationWebhookURL = "http://validator.internal/check"
	fx := newFixture(envelope(t, 1, 2, intent(StateValidated)))
	fx.configs.cfgs["drop-1"] = cfg

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("expected processed, got %+v", sum)
	}
	for _, call := range fx.poster.posts {
		if call.url == cfg.ValidationWebhookURL {
			t.Fatal("validated message must not be re-validated")
		}
	}
	if len(fx.commited) != 1 {
		t.Fatalf("expected one commit, got %d", len(fx.commited))
	}
}

func TestDrainOnce_CommitWebhookCarriesIdempotencyKey(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.CommitWebhookURL = "http://ledger.internal/commit"
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.cfgs["drop-1"] = cfg

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("expected processed, got %+v", sum)
	}
	if len(fx.commited) != 0 {
		t.Fatal("webhook commit must bypass the registry")
	}

	var commitCall *postCall
	for i := range fx.poster.posts {
		if fx.poster.posts[i].url == cfg.CommitWebhookURL {
			commitCall = &fx.poster.posts[i]
		}
	}
	if commitCall == nil {
		t.Fatal("expected a commit webhook delivery")
	}
	if commitCall.key != "slot-1" {
		t.Fatalf("idempotency key must be the resource id, got %q", commitCall.key)
	}
}

func TestDrainOnce_CommitFailureRequeuesWithValidatedPersisted(t *testing.T) {
	cfg := store.DefaultPoolConfig("drop-1")
	cfg.CommitWebhookURL = "http://ledger.internal/commit"
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.configs.cfgs["drop-1"] = cfg
	fx.poster.errs = map[string]error{cfg.CommitWebhookURL: errors.New("500")}

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 0 || sum.DLQ != 0 {
		t.Fatalf("commit failure must requeue, got %+v", sum)
	}

	// The validated transition survived, so the redelivery resumes at the
	// commit step instead of re-validating.
	p, err := ParsePayload(fx.queue.payloads[1])
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateValidated {
		t.Fatalf("expected validated state persisted, got %s", p.State)
	}
}

func TestDrainOnce_CommittedMessageSettlesIdempotently(t *testing.T) {
	// Crash-after-commit redelivery: the commit runs again (it is
	// idempotent) and the message finally acks.
	fx := newFixture(envelope(t, 1, 3, intent(StateCommitted)))

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("expected processed, got %+v", sum)
	}
	if len(fx.queue.deleted) != 1 {
		t.Fatal("expected the redelivered message to ack")
	}
	if len(fx.queue.payloads) != 0 {
		t.Fatal("no state transition expected for an already committed intent")
	}
}

func TestDrainOnce_AckFailureNonFatal(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.queue.deleteErr = errors.New("network blip")

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("ack failure must not fail the drain: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("expected processed despite ack failure, got %+v", sum)
	}
}

func TestDrainOnce_DLQMoveFailureRequeues(t *testing.T) {
	fx := newFixture(store.Envelope{MsgID: 7, ReadCt: 1, Payload: []byte(`not json`)})
	fx.queue.dlqErr = errors.New("dlq write failed")

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.DLQ != 0 || sum.Processed != 0 {
		t.Fatalf("failed dlq move must leave the message leased, got %+v", sum)
	}
}

func TestDrainOnce_SlotMarkFailureNonFatal(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.slots.err = errors.New("slot store down")

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("ledger commit is authoritative; expected processed, got %+v", sum)
	}
}

func TestDrainOnce_NotifierFailureNonFatal(t *testing.T) {
	fx := newFixture(envelope(t, 1, 1, intent(StateQueued)))
	fx.notifier.err = errors.New("redis down")

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 1 {
		t.Fatalf("confirmation push is best effort, got %+v", sum)
	}
}

func TestDrainOnce_DeadlineStopsBatch(t *testing.T) {
	fx := newFixture(
		envelope(t, 1, 1, intent(StateQueued)),
		envelope(t, 2, 1, intent(StateQueued)),
	)
	fx.worker.cfg.Deadline = 10 * time.Millisecond

	base := time.Now()
	calls := 0
	fx.worker.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 20 * time.Millisecond)
	}

	sum, err := fx.worker.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sum.Processed != 0 {
		t.Fatalf("deadline must stop new messages, got %+v", sum)
	}
	if sum.Total != 2 {
		t.Fatalf("leased batch size must still be reported, got %+v", sum)
	}
	if len(fx.queue.deleted) != 0 {
		t.Fatal("nothing should ack once the deadline passed")
	}
}
