package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) (*RedisBus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisBus(client), context.Background()
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch, err := bus.Subscribe(ctx, SubjectDeletions)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Give the pubsub reader a moment to attach.
	time.Sleep(50 * time.Millisecond)

	want := Event{Kind: KindCompleted, MarkForDeleteID: "mfd-9", ObjectID: "obj-9", ObjectType: "AuthorizationGroup", At: 7}
	if err := bus.Publish(ctx, SubjectDeletions, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	if err := bus.Unsubscribe(ctx, SubjectDeletions, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}
