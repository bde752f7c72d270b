package presets

import (
	"context"
	"time"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-groundhog/v1/adapter"
	"github.com/mirkobrombin/go-groundhog/v1/procache"
	"github.com/mirkobrombin/go-groundhog/v1/syncbus"
)

// Setup bundles a cache with the reloader, and optionally the store, that a
// preset wired for it.
type Setup[T any] struct {
	Cache    *procache.ProcessCache[T]
	Reloader *procache.Reloader
	Store    adapter.Store[T]

	closers []func() error
}

// Start begins listening for reload events.
func (s *Setup[T]) Start(ctx context.Context) error {
	return s.Reloader.Start(ctx)
}

// OnClose registers fn to run on Close, after the preset's own closers.
func (s *Setup[T]) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close stops the reloader and releases connections opened by the preset.
func (s *Setup[T]) Close() error {
	s.Reloader.Stop()
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewStandalone creates a cache that runs entirely in-process with no
// external dependencies. Reload reaches only reloaders sharing the returned
// in-memory bus.
func NewStandalone[T any](seed procache.Seed[T], opts ...procache.Option[T]) *Setup[T] {
	c := procache.New(seed, opts...)
	bus := syncbus.NewInMemoryBus()
	return &Setup[T]{
		Cache:    c,
		Reloader: procache.NewReloader(c, bus),
	}
}

// NewPersistent is NewStandalone with seed compute functions reading through
// store, so a value computed in one session is loaded from store in the
// next instead of being computed again.
func NewPersistent[T any](store adapter.Store[T], seed procache.Seed[T], opts ...procache.Option[T]) *Setup[T] {
	s := NewStandalone(persistSeed(store, seed), opts...)
	s.Store = store
	return s
}

// persistSeed wraps every compute function of seed with adapter.StoreCompute.
func persistSeed[T any](store adapter.Store[T], seed procache.Seed[T]) procache.Seed[T] {
	out := procache.Seed[T]{
		Values:  seed.Values,
		Compute: make(map[string]procache.ComputeFunc[T], len(seed.Compute)),
	}
	for k, fn := range seed.Compute {
		out.Compute[k] = adapter.StoreCompute[T](store, k, fn)
	}
	return out
}

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces persisted keys.
	Prefix string
	// Topic overrides the reload topic.
	Topic string
	// Breaker configures the publish circuit breaker.
	Breaker BreakerOptions
}

// BreakerOptions configures the circuit breaker in front of a network bus.
// Zero values select syncbus.DefaultBreakerThreshold and
// syncbus.DefaultBreakerCooldown.
type BreakerOptions struct {
	Threshold int
	Cooldown  time.Duration
}

func (b BreakerOptions) wrap(bus syncbus.Bus) *syncbus.CircuitBreakerBus {
	return syncbus.NewCircuitBreaker(bus,
		syncbus.WithBreakerThreshold(b.Threshold),
		syncbus.WithBreakerCooldown(b.Cooldown),
	)
}

// NATSOptions configures a NATS-backed setup.
type NATSOptions struct {
	// Topic overrides the reload topic.
	Topic   string
	Breaker BreakerOptions
}

// NewRedisBacked creates a cache whose seed compute functions read through a
// Redis store, so computed values persist across sessions, and whose reloads
// travel over Redis pub/sub. Publishing goes through a circuit breaker
// configured by opts.Breaker.
func NewRedisBacked[T any](opts RedisOptions, seed procache.Seed[T], cacheOpts ...procache.Option[T]) *Setup[T] {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	store := adapter.NewRedisStore[T](client, adapter.WithPrefix(opts.Prefix))

	c := procache.New(persistSeed[T](store, seed), cacheOpts...)
	bus := syncbus.NewRedisBus(client)
	return &Setup[T]{
		Cache:    c,
		Reloader: procache.NewReloader(c, opts.Breaker.wrap(bus), procache.WithTopic(opts.Topic)),
		Store:    store,
		closers:  []func() error{bus.Close, client.Close},
	}
}

// NewNATSBacked creates a cache whose reloads travel over NATS. The
// connection stays owned by the caller.
func NewNATSBacked[T any](conn *nats.Conn, natsOpts NATSOptions, seed procache.Seed[T], opts ...procache.Option[T]) *Setup[T] {
	c := procache.New(seed, opts...)
	bus := syncbus.NewNATSBus(conn)
	return &Setup[T]{
		Cache:    c,
		Reloader: procache.NewReloader(c, natsOpts.Breaker.wrap(bus), procache.WithTopic(natsOpts.Topic)),
	}
}
