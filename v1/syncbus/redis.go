package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
)

const (
	redisBusTimeout = 5 * time.Second
	seenTTL         = time.Minute
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan Event
}

// RedisBus implements Bus using Redis pub/sub.
type RedisBus struct {
	client    *redis.Client
	mu        sync.Mutex
	subs      map[string]*redisSubscription
	pending   map[string]struct{}
	seen      map[string]time.Time
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client:  client,
		subs:    make(map[string]*redisSubscription),
		pending: make(map[string]struct{}),
		seen:    make(map[string]time.Time),
	}
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return ghErrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return ghErrors.ErrConnectionClosed
	default:
		return err
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
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
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, topic, data).Err(); err != nil {
		return mapRedisErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	ch := make(chan Event, 1)
	b.mu.Lock()
	sub, ok := b.subs[topic]
	if ok {
		sub.chans = append(sub.chans, ch)
		b.mu.Unlock()
	} else {
		b.mu.Unlock()
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		ps := b.client.Subscribe(cctx, topic)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			return nil, mapRedisErr(err)
		}
		b.mu.Lock()
		if existing, ok := b.subs[topic]; ok {
			// lost a race with another Subscribe on the same topic
			existing.chans = append(existing.chans, ch)
			b.mu.Unlock()
			_ = ps.Close()
		} else {
			sub = &redisSubscription{pubsub: ps, chans: []chan Event{ch}}
			b.subs[topic] = sub
			b.mu.Unlock()
			go b.dispatch(topic, sub)
		}
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(topic string, sub *redisSubscription) {
	for msg := range sub.pubsub.Channel() {
		m, err := decodeMessage([]byte(msg.Payload))
		if err != nil {
			continue
		}
		now := time.Now()
		b.mu.Lock()
		if _, dup := b.seen[m.Nonce]; dup {
			b.mu.Unlock()
			continue
		}
		b.seen[m.Nonce] = now
		for id, at := range b.seen {
			if now.Sub(at) > seenTTL {
				delete(b.seen, id)
			}
		}
		evt := Event{Topic: topic, Origin: m.Origin}
		for _, c := range sub.chans {
			select {
			case c <- evt:
				b.delivered.Add(1)
			default:
			}
		}
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch <-chan Event) error {
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
		return sub.pubsub.Close()
	}
	b.mu.Unlock()
	return nil
}

// Close releases every open subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	for _, sub := range subs {
		for _, c := range sub.chans {
			close(c)
		}
		// dispatch may still hold buffered messages for this subscription
		sub.chans = nil
	}
	b.mu.Unlock()
	var errs []error
	for _, sub := range subs {
		if err := sub.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

// Metrics implements Bus.Metrics.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
