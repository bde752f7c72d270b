package syncbus

import (
	"context"
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
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	pending   map[string]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subs:    make(map[string]*natsSubscription),
		pending: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := publishOptions(opts)
	pk := pendingKey(topic, o.Origin)
	b.mu.Lock()
	if _, ok := b.pending[pk]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[pk] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, pk)
		b.mu.Unlock()
	}()

	data, _, err := encodeMessage(o.Origin)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		ns, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
			m, err := decodeMessage(msg.Data)
			if err != nil {
				return
			}
			b.mu.Lock()
			s := b.subs[topic]
			if s == nil {
				b.mu.Unlock()
				return
			}
			// sends are non-blocking and happen under the lock so that
			// Unsubscribe cannot close a channel mid-delivery
			evt := Event{Topic: topic, Origin: m.Origin}
			for _, c := range s.chans {
				select {
				case c <- evt:
					b.delivered.Add(1)
				default:
				}
			}
			b.mu.Unlock()
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[topic] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	// Flush makes sure the server registered the interest before we return.
	if err := b.conn.Flush(); err != nil {
		_ = b.Unsubscribe(context.Background(), topic, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch <-chan Event) error {
	b.mu.Lock()
	sub := b.subs[topic]
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
	if len(sub.chans) == 0 {
		delete(b.subs, topic)
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Metrics implements Bus.Metrics.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
