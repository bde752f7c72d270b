package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is delivered to subscribers of a topic.
type Event struct {
	Topic string
	// Origin identifies the publisher, empty when none was given.
	Origin string
}

// PublishOptions holds per-publish settings.
type PublishOptions struct {
	Origin string
}

// PublishOption configures a single Publish call.
type PublishOption func(*PublishOptions)

// WithOrigin tags the published event with the id of its sender so that the
// sender can recognize and skip its own events.
func WithOrigin(id string) PublishOption {
	return func(o *PublishOptions) {
		o.Origin = id
	}
}

func publishOptions(opts []PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Bus provides a simple pub/sub mechanism used to propagate reload events
// across processes.
type Bus interface {
	Publish(ctx context.Context, topic string, opts ...PublishOption) error
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, topic string, ch <-chan Event) error
	Metrics() Metrics
}

// Metrics reports how many events a bus published and delivered.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// pendingKey identifies an in-flight publish for deduplication.
func pendingKey(topic, origin string) string {
	return topic + "\x00" + origin
}

// InMemoryBus is a local implementation of Bus for a single process and tests.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Event)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := publishOptions(opts)
	b.mu.Lock()
	b.published.Add(1)
	evt := Event{Topic: topic, Origin: o.Origin}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- evt:
			b.delivered.Add(1)
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch <-chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[topic] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	return nil
}

// Metrics implements Bus.Metrics.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
