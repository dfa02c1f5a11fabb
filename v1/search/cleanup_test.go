package search

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRelationshipCleanerDrains(t *testing.T) {
	idx := NewInMemoryIndex()
	ctx := context.Background()

	_ = idx.IndexDocument(ctx, "relationships", "r1", map[string]any{"parentid": "obj-1", "childid": "u-1"})
	_ = idx.IndexDocument(ctx, "relationships", "r2", map[string]any{"parentid": "g-1", "childid": "obj-1"})
	_ = idx.IndexDocument(ctx, "relationships", "r3", map[string]any{"parentid": "g-1", "childid": "u-9"})

	c, err := NewRelationshipCleaner(idx, "relationships",
		WithCleanerThrottle(rate.Limit(10_000)),
		WithCleanerBudget(5*time.Second))
	if err != nil {
		t.Fatalf("new cleaner: %v", err)
	}

	c.Launch("obj-1")
	c.Wait()

	if n := idx.Count("relationships"); n != 1 {
		t.Fatalf("expected one document left after drain, got %d", n)
	}
}

func TestRelationshipCleanerToleratesConflicts(t *testing.T) {
	idx := NewInMemoryIndex()
	ctx := context.Background()

	_ = idx.IndexDocument(ctx, "relationships", "r1", map[string]any{"parentid": "obj-1"})
	_ = idx.IndexDocument(ctx, "relationships", "r2", map[string]any{"parentid": "obj-1"})
	idx.ConflictOn("r1")

	c, err := NewRelationshipCleaner(idx, "relationships",
		WithCleanerThrottle(rate.Limit(10_000)),
		WithCleanerBudget(5*time.Second))
	if err != nil {
		t.Fatalf("new cleaner: %v", err)
	}

	c.Launch("obj-1")
	c.Wait()

	// The conflicting document is skipped, the other removed.
	if _, ok := idx.Get("relationships", "r1"); !ok {
		t.Fatal("conflicting document should survive")
	}
	if _, ok := idx.Get("relationships", "r2"); ok {
		t.Fatal("non-conflicting document should be removed")
	}
}

func TestRelationshipCleanerCloseDrainsAndIsIdempotent(t *testing.T) {
	idx := NewInMemoryIndex()
	ctx := context.Background()

	_ = idx.IndexDocument(ctx, "relationships", "r1", map[string]any{"parentid": "obj-1"})

	c, err := NewRelationshipCleaner(idx, "relationships",
		WithCleanerThrottle(rate.Limit(10_000)),
		WithCleanerBudget(5*time.Second))
	if err != nil {
		t.Fatalf("new cleaner: %v", err)
	}

	c.Launch("obj-1")
	c.Close()

	if n := idx.Count("relationships"); n != 0 {
		t.Fatalf("Close should drain the launched cleanup, %d documents left", n)
	}
	c.Close()
}

type countingClient struct {
	Client
	calls atomic.Int32
}

func (c *countingClient) DeleteByQuery(ctx context.Context, index string, q Query, opts DeleteByQueryOptions) (int, error) {
	c.calls.Add(1)
	return c.Client.DeleteByQuery(ctx, index, q, opts)
}

func TestRelationshipCleanerDedupesLaunches(t *testing.T) {
	idx := NewInMemoryIndex()
	counting := &countingClient{Client: idx}

	c, err := NewRelationshipCleaner(counting, "relationships",
		WithCleanerThrottle(rate.Limit(10_000)),
		WithCleanerBudget(5*time.Second),
		WithCleanerDedupeWindow(time.Minute))
	if err != nil {
		t.Fatalf("new cleaner: %v", err)
	}

	c.Launch("obj-1")
	c.Wait()
	c.launched.Wait() // flush the dedupe cache's async buffers
	first := counting.calls.Load()
	if first == 0 {
		t.Fatal("first launch did not run")
	}

	c.Launch("obj-1")
	c.Wait()
	if counting.calls.Load() != first {
		t.Fatal("duplicate launch inside the window should be suppressed")
	}

	// A different object is unaffected.
	c.Launch("obj-2")
	c.Wait()
	if counting.calls.Load() == first {
		t.Fatal("distinct object launch should run")
	}
}
