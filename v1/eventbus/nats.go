package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan Event
}

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn *nats.Conn

	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published uint64
	delivered uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, subject string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		ns, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return
			}
			b.mu.Lock()
			s := b.subs[subject]
			if s == nil {
				b.mu.Unlock()
				return
			}
			chans := append([]chan Event(nil), s.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- ev:
					atomic.AddUint64(&b.delivered, 1)
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[subject] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, subject string, ch chan Event) error {
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	var ns *nats.Subscription
	if len(sub.chans) == 0 {
		ns = sub.sub
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	if ns != nil {
		return ns.Unsubscribe()
	}
	return nil
}

// Stats returns the number of published and delivered events.
func (b *NATSBus) Stats() (published, delivered uint64) {
	return atomic.LoadUint64(&b.published), atomic.LoadUint64(&b.delivered)
}
