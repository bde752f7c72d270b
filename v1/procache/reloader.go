package procache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-groundhog/v1/metrics"
	"github.com/mirkobrombin/go-groundhog/v1/syncbus"
)

// DefaultReloadTopic is the bus topic used when none is configured.
const DefaultReloadTopic = "groundhog.reload"

// ErrReloaderRunning is returned by Start on a Reloader already started.
var ErrReloaderRunning = errors.New("groundhog: reloader already running")

// Resetter is anything that can return to its load-time state.
type Resetter interface {
	Reset(ctx context.Context)
}

// Reloader resets a target whenever a reload event arrives on its bus topic,
// and publishes reload events for the other processes sharing the topic.
type Reloader struct {
	target Resetter
	bus    syncbus.Bus
	topic  string
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	reloads atomic.Uint64
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithTopic overrides DefaultReloadTopic.
func WithTopic(topic string) ReloaderOption {
	return func(r *Reloader) {
		if topic != "" {
			r.topic = topic
		}
	}
}

// WithReloaderLogger sets the logger; slog.Default is used otherwise.
func WithReloaderLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReloader returns a Reloader for target on bus. It does not listen until
// Start is called.
func NewReloader(target Resetter, bus syncbus.Bus, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		target: target,
		bus:    bus,
		topic:  DefaultReloadTopic,
		id:     uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID identifies this Reloader on the bus.
func (r *Reloader) ID() string { return r.id }

// Start subscribes to the reload topic and resets the target for every event
// published by another Reloader. It returns once the subscription is active.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrReloaderRunning
	}
	lctx, cancel := context.WithCancel(ctx)
	ch, err := r.bus.Subscribe(lctx, r.topic)
	if err != nil {
		cancel()
		return err
	}
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.listen(lctx, ch, r.done)
	r.logger.Info("groundhog: reloader started", "topic", r.topic, "id", r.id)
	return nil
}

func (r *Reloader) listen(ctx context.Context, ch <-chan syncbus.Event, done chan struct{}) {
	defer close(done)
	defer r.exited(done)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Origin == r.id {
				continue
			}
			r.reloads.Add(1)
			metrics.ReloadCounter.Inc()
			r.logger.Debug("groundhog: reload event", "topic", evt.Topic, "origin", evt.Origin)
			r.target.Reset(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// exited clears the running state when the listener stops on its own, for
// example because the context given to Start was canceled, so that Start can
// be called again.
func (r *Reloader) exited(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != done {
		return
	}
	r.cancel()
	r.cancel, r.done = nil, nil
	r.logger.Info("groundhog: reloader stopped", "topic", r.topic, "id", r.id)
}

// Stop ends the subscription and waits for the listener to exit.
func (r *Reloader) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reload resets the target locally, then asks every other process on the
// topic to do the same. The local reset happens even if publishing fails.
func (r *Reloader) Reload(ctx context.Context) error {
	r.target.Reset(ctx)
	if err := r.bus.Publish(ctx, r.topic, syncbus.WithOrigin(r.id)); err != nil {
		r.logger.Warn("groundhog: reload publish failed", "topic", r.topic, "error", err)
		return err
	}
	return nil
}

// Received reports how many remote reload events were applied.
func (r *Reloader) Received() uint64 {
	return r.reloads.Load()
}
