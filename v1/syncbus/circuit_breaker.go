package syncbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mirkobrombin/go-groundhog/v1/metrics"
)

// ErrCircuitOpen is returned by Publish while the breaker rejects calls.
var ErrCircuitOpen = errors.New("groundhog: reload bus circuit open")

const (
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 5 * time.Second
)

// BreakerState is the position of a CircuitBreakerBus.
type BreakerState int

const (
	// BreakerClosed lets every publish through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects publishes until the cooldown has elapsed.
	BreakerOpen
	// BreakerHalfOpen lets a single probe publish through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOption configures a CircuitBreakerBus.
type BreakerOption func(*CircuitBreakerBus)

// WithBreakerThreshold sets how many consecutive failed publishes open the
// breaker. Non-positive values keep DefaultBreakerThreshold.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreakerBus) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

// WithBreakerCooldown sets how long an open breaker waits before letting a
// probe through. Non-positive values keep DefaultBreakerCooldown.
func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(cb *CircuitBreakerBus) {
		if d > 0 {
			cb.cooldown = d
		}
	}
}

// WithBreakerLogger sets the logger used for state changes.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreakerBus) {
		if l != nil {
			cb.logger = l
		}
	}
}

// CircuitBreakerBus guards the publishes of a Bus. Subscriptions pass
// straight through: a process keeps receiving reloads while it cannot send
// them.
type CircuitBreakerBus struct {
	bus Bus

	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker wraps bus.
func NewCircuitBreaker(bus Bus, opts ...BreakerOption) *CircuitBreakerBus {
	cb := &CircuitBreakerBus{
		bus:       bus,
		threshold: DefaultBreakerThreshold,
		cooldown:  DefaultBreakerCooldown,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// State reports the current position. An open breaker whose cooldown has
// elapsed still reads as open until the next publish probes it.
func (cb *CircuitBreakerBus) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsHealthy reports whether a publish would be attempted now.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state != BreakerOpen || cb.now().Sub(cb.openedAt) >= cb.cooldown
}

// setState must be called with mu held.
func (cb *CircuitBreakerBus) setState(to BreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == BreakerOpen {
		cb.openedAt = cb.now()
		metrics.BreakerOpenCounter.Inc()
	}
	cb.logger.Info("groundhog: reload bus breaker", "from", from.String(), "to", to.String())
}

// acquire decides whether a publish may go out.
func (cb *CircuitBreakerBus) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.setState(BreakerHalfOpen)
		return nil
	case BreakerHalfOpen:
		// a probe is already out
		return ErrCircuitOpen
	}
	return nil
}

// release records the outcome of a publish allowed by acquire. A publish
// abandoned by its own context says nothing about the bus and leaves the
// failure count alone.
func (cb *CircuitBreakerBus) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.failures = 0
		cb.setState(BreakerClosed)
	case errors.Is(err, context.Canceled):
		if cb.state == BreakerHalfOpen {
			cb.setState(BreakerOpen)
		}
	default:
		cb.failures++
		if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
			cb.setState(BreakerOpen)
		}
	}
}

// Publish implements Bus.Publish.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, topic string, opts ...PublishOption) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := cb.bus.Publish(ctx, topic, opts...)
	cb.release(err)
	return err
}

// Subscribe implements Bus.Subscribe.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	return cb.bus.Subscribe(ctx, topic)
}

// Unsubscribe implements Bus.Unsubscribe.
func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, topic string, ch <-chan Event) error {
	return cb.bus.Unsubscribe(ctx, topic, ch)
}

// Metrics implements Bus.Metrics.
func (cb *CircuitBreakerBus) Metrics() Metrics {
	return cb.bus.Metrics()
}
