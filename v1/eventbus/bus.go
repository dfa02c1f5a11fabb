package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus distributes deletion lifecycle events across nodes.
type Bus interface {
	Publish(ctx context.Context, subject string, ev Event) error
	Subscribe(ctx context.Context, subject string) (chan Event, error)
	Unsubscribe(ctx context.Context, subject string, ch chan Event) error
}

// InMemoryBus is a local implementation of Bus mainly for testing and
// single-process deployments.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Event)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, subject string, ev Event) error {
	b.mu.Lock()
	chans := append([]chan Event(nil), b.subs[subject]...)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	for _, ch := range chans {
		select {
		case ch <- ev:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, subject string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, subject string, ch chan Event) error {
	b.mu.Lock()
	subs := b.subs[subject]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[subject] = subs
			close(c)
			break
		}
	}
	if len(b.subs[subject]) == 0 {
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	return nil
}

// Stats returns the number of published and delivered events.
func (b *InMemoryBus) Stats() (published, delivered uint64) {
	return atomic.LoadUint64(&b.published), atomic.LoadUint64(&b.delivered)
}
