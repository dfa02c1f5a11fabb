package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan Event
}

// RedisBus implements Bus using Redis pub/sub.
type RedisBus struct {
	client *redis.Client

	mu        sync.Mutex
	subs      map[string]*redisSubscription
	published uint64
	delivered uint64
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, subject, data).Err(); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, subject string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		pubsub := b.client.Subscribe(ctx, subject)
		sub = &redisSubscription{pubsub: pubsub}
		b.subs[subject] = sub
		go func() {
			for msg := range pubsub.Channel() {
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
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
			}
		}()
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, subject string, ch chan Event) error {
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
	var pubsub *redis.PubSub
	if len(sub.chans) == 0 {
		pubsub = sub.pubsub
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}

// Stats returns the number of published and delivered events.
func (b *RedisBus) Stats() (published, delivered uint64) {
	return atomic.LoadUint64(&b.published), atomic.LoadUint64(&b.delivered)
}
