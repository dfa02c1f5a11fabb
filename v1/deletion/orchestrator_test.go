package deletion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wardenid/warden/v1/eventbus"
	"github.com/wardenid/warden/v1/lock"
	"github.com/wardenid/warden/v1/search"
)

type recordingDAO struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *recordingDAO) Delete(ctx context.Context, objectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, objectID)
	return nil
}

func (d *recordingDAO) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

type fixture struct {
	store *InMemoryStore
	locks *lock.Manager
	index *search.InMemoryIndex
	dao   *recordingDAO
	orch  *Orchestrator
	clock *clock.Mock
}

func newFixture(t *testing.T, opts ...OrchestratorOption) *fixture {
	t.Helper()
	f := &fixture{
		store: NewInMemoryStore(),
		locks: lock.NewManager(lock.NewInMemoryStore()),
		index: search.NewInMemoryIndex(),
		dao:   &recordingDAO{},
		clock: clock.NewMock(),
	}
	registry := NewRegistry()
	registry.Register(TypeClient, NewObjectHandler(f.dao, f.index, "objects", nil))
	registry.Register(TypeAuthenticationGroup, NewObjectHandler(f.dao, f.index, "objects", nil))

	opts = append([]OrchestratorOption{WithClock(f.clock)}, opts...)
	f.orch = NewOrchestrator(f.store, f.locks, registry, opts...)
	return f
}

func submit(t *testing.T, store Store, id, objectID string, typ ObjectType, at int64) {
	t.Helper()
	if err := store.Create(context.Background(), Request{
		MarkForDeleteID: id,
		ObjectID:        objectID,
		ObjectType:      typ,
		SubmittedAt:     at,
	}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestRunOnceDispatchesOldestSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.index.IndexDocument(ctx, "objects", "client-1", map[string]any{"name": "c"})
	_ = f.index.IndexDocument(ctx, "objects", "group-1", map[string]any{"name": "g"})

	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)
	submit(t, f.store, "mfd-1", "group-1", TypeAuthenticationGroup, 1)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// The t=0 Client request is selected; its DAO is invoked exactly once
	// with the correct object id and the object document is gone.
	if got := f.dao.calls(); len(got) != 1 || got[0] != "client-1" {
		t.Fatalf("expected one DAO delete for client-1, got %v", got)
	}
	if _, ok := f.index.Get("objects", "client-1"); ok {
		t.Fatal("object document should be deleted before the handler returns")
	}
	if _, ok := f.index.Get("objects", "group-1"); !ok {
		t.Fatal("other object's document should be untouched")
	}

	req, err := f.store.Get(ctx, "mfd-0")
	if err != nil || req.StartedAt == nil || req.CompletedAt == nil {
		t.Fatalf("request should be started and completed: %+v err %v", req, err)
	}

	// The next cycle picks the t=1 request.
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.dao.calls(); len(got) != 2 || got[1] != "group-1" {
		t.Fatalf("expected second DAO delete for group-1, got %v", got)
	}
}

func TestRunOnceIdleWhenNothingSubmitted(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("idle run: %v", err)
	}
	if got := f.dao.calls(); len(got) != 0 {
		t.Fatalf("no dispatch expected, got %v", got)
	}
}

func TestRunOnceContentionLossLeavesRequestUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)

	// Another process already claimed this request's lock.
	req, _ := f.store.Get(ctx, "mfd-0")
	if _, held, err := f.locks.Acquire(ctx, req.LockName(), time.Minute); err != nil || !held {
		t.Fatalf("pre-acquire: held %v err %v", held, err)
	}

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.dao.calls(); len(got) != 0 {
		t.Fatalf("no dispatch expected on contention loss, got %v", got)
	}
	req, _ = f.store.Get(ctx, "mfd-0")
	if req.StartedAt != nil {
		t.Fatal("request must stay submitted when the lock is held elsewhere")
	}
}

func TestRunOnceFailureLeavesRequestStartedAndReleasesLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dao.err = errors.New("cascade failed")
	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once should absorb handler failure: %v", err)
	}

	req, _ := f.store.Get(ctx, "mfd-0")
	if req.StartedAt == nil {
		t.Fatal("failed dispatch must leave the request started")
	}
	if req.CompletedAt != nil {
		t.Fatal("failed dispatch must not complete the request")
	}

	// The lease is released on the failure path.
	if _, held, err := f.locks.Acquire(ctx, req.LockName(), time.Minute); err != nil || !held {
		t.Fatalf("lease should be free after failed dispatch: held %v err %v", held, err)
	}

	// Within the stall window the request is claimed but not re-dispatched.
	f.dao.err = nil
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.dao.calls(); len(got) != 0 {
		t.Fatalf("started request must not be re-selected before stall recovery, got %v", got)
	}
	after, _ := f.store.Get(ctx, "mfd-0")
	if after.StartedAt == nil || *after.StartedAt != *req.StartedAt {
		t.Fatal("started timestamp must be unchanged by the orchestrator")
	}
}

func TestFailedDispatchRecoversThroughStallSweepAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.index.IndexDocument(ctx, "objects", "client-1", map[string]any{"name": "c"})
	f.dao.err = errors.New("cascade failed")
	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("failing run: %v", err)
	}

	// Past the stall threshold the sweep un-claims the request.
	sweeper := NewSweeper(f.store, WithSweeperClock(f.clock))
	f.clock.Add(25 * time.Hour)
	if n, err := sweeper.RecoverStalled(ctx); err != nil || n != 1 {
		t.Fatalf("recover stalled: n=%d err=%v", n, err)
	}

	f.dao.err = nil
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("retry run: %v", err)
	}

	req, err := f.store.Get(ctx, "mfd-0")
	if err != nil || req.CompletedAt == nil {
		t.Fatalf("retried request should complete: %+v err %v", req, err)
	}
	if got := f.dao.calls(); len(got) != 1 || got[0] != "client-1" {
		t.Fatalf("retry should delete the object exactly once, got %v", got)
	}
	if _, ok := f.index.Get("objects", "client-1"); ok {
		t.Fatal("object document should be deleted after the retried cascade")
	}
}

func TestRunOnceUnknownTypeCompletesAsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submit(t, f.store, "mfd-0", "legacy-1", ObjectType("HolographicBadge"), 0)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.dao.calls(); len(got) != 0 {
		t.Fatalf("unknown type must not hit any DAO, got %v", got)
	}
	req, _ := f.store.Get(ctx, "mfd-0")
	if req.CompletedAt == nil {
		t.Fatal("unknown type should complete as a no-op")
	}
}

func TestRunOncePublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	f := newFixture(t, WithBus(bus))
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, eventbus.SubjectDeletions)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	want := []eventbus.Kind{eventbus.KindStarted, eventbus.KindCompleted}
	for _, kind := range want {
		select {
		case ev := <-ch:
			if ev.Kind != kind || ev.MarkForDeleteID != "mfd-0" {
				t.Fatalf("expected %s for mfd-0, got %+v", kind, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

type failingLockStore struct {
	lock.Store
	err error
}

func (f *failingLockStore) Insert(ctx context.Context, rec lock.Record) error { return f.err }

func TestRunOnceAcquireFailureFailsSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	boom := errors.New("lease store unavailable")
	f.orch.locks = lock.NewManager(&failingLockStore{Store: lock.NewInMemoryStore(), err: boom})

	submit(t, f.store, "mfd-0", "client-1", TypeClient, 0)

	if err := f.orch.RunOnce(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected lease store error, got %v", err)
	}
	if got := f.dao.calls(); len(got) != 0 {
		t.Fatalf("guarded work must not run on acquire failure, got %v", got)
	}
	req, _ := f.store.Get(ctx, "mfd-0")
	if req.StartedAt != nil {
		t.Fatal("request must stay submitted on acquire failure")
	}
}

func TestObjectHandlerRecordsSteps(t *testing.T) {
	steps := NewInMemoryStepStore()
	index := search.NewInMemoryIndex()
	dao := &recordingDAO{}
	cleaner, err := search.NewRelationshipCleaner(index, "relationships")
	if err != nil {
		t.Fatalf("new cleaner: %v", err)
	}
	h := NewObjectHandler(dao, index, "objects", cleaner, WithStepStore(steps))

	ctx := context.Background()
	req := Request{MarkForDeleteID: "mfd-0", ObjectID: "client-1", ObjectType: TypeClient}
	if err := h.Delete(ctx, req); err != nil {
		t.Fatalf("delete: %v", err)
	}

	recs, err := steps.Steps(ctx, "mfd-0")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	got := make(map[Step]StepStatus, len(recs))
	for _, r := range recs {
		got[r.Step] = r.Status
	}
	if got[StepRelational] != StepCompleted || got[StepObjectIndex] != StepCompleted {
		t.Fatalf("synchronous steps should complete, got %v", got)
	}
	// The relationship cleanup is fire-and-forget: started, never awaited.
	if got[StepRelationshipIndex] != StepStarted {
		t.Fatalf("relationship step should be started, got %v", got)
	}
}
