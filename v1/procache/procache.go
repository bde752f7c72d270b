package procache

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
	"github.com/mirkobrombin/go-groundhog/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-groundhog/v1/procache")

// CacheEntry is a snapshot of a single entry.
type CacheEntry[T any] struct {
	Key       string
	Value     T
	Populated bool
}

// Previous is the value a key held before a Set. Present is false when the
// key had no stored value.
type Previous[T any] struct {
	Value   T
	Present bool
}

// ProcessCache is a memoizing key-value store owned by a single process.
//
// T represents the type of values stored in the cache.
type ProcessCache[T any] struct {
	mu      sync.RWMutex
	seed    Seed[T]
	entries map[string]*entry[T]
	gen     uint64
	group   singleflight.Group

	hooksMu sync.Mutex
	hooks   []func(context.Context)

	hits     atomic.Uint64
	misses   atomic.Uint64
	computes atomic.Uint64
	resets   atomic.Uint64

	logger         *slog.Logger
	computeTimeout time.Duration
	clone          func(T) T

	hitCounter        prometheus.Counter
	missCounter       prometheus.Counter
	computeCounter    prometheus.Counter
	computeErrCounter prometheus.Counter
	computeHist       prometheus.Histogram
	traceEnabled      bool
}

// New builds a ProcessCache and loads it from seed.
func New[T any](seed Seed[T], opts ...Option[T]) *ProcessCache[T] {
	c := &ProcessCache[T]{
		seed:   seed,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = seed.build(c.clone)
	return c
}

// Get returns the current value for key. An unpopulated entry with a compute
// function is computed once, stored and returned; concurrent callers share the
// same computation. A key with neither a value nor a compute function yields
// an error matching errors.ErrKeyNotFound.
func (c *ProcessCache[T]) Get(ctx context.Context, key string) (T, error) {
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "ProcessCache.Get", trace.WithAttributes(attribute.String("groundhog.key", key)))
		defer span.End()
	}
	metrics.GetCounter.Inc()

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	if ok && e.populated {
		v := e.value
		c.mu.RUnlock()
		c.recordHit(span)
		return v, nil
	}
	var fn ComputeFunc[T]
	if ok {
		fn = e.compute
	}
	gen := c.gen
	c.mu.RUnlock()

	if fn == nil {
		c.misses.Add(1)
		if c.missCounter != nil {
			c.missCounter.Inc()
		}
		if c.traceEnabled {
			span.SetAttributes(attribute.String("groundhog.cache.result", "miss"))
			span.SetStatus(codes.Error, "key not found")
		}
		return zero, fmt.Errorf("%w: %q", ghErrors.ErrKeyNotFound, key)
	}

	if c.traceEnabled {
		span.SetAttributes(attribute.String("groundhog.cache.result", "compute"))
	}

	// The flight key carries the generation so that callers arriving after a
	// Reset never join a computation started before it.
	flight := strconv.FormatUint(gen, 10) + "\x00" + key
	ch := c.group.DoChan(flight, func() (any, error) {
		return c.compute(context.WithoutCancel(ctx), key, gen, fn)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			if c.traceEnabled {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Err.Error())
			}
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *ProcessCache[T]) recordHit(span trace.Span) {
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	if c.traceEnabled {
		span.SetAttributes(attribute.String("groundhog.cache.result", "hit"))
	}
}

// compute runs fn for key and stores the result if the cache is still in
// generation gen and nobody wrote the key meanwhile.
func (c *ProcessCache[T]) compute(ctx context.Context, key string, gen uint64, fn ComputeFunc[T]) (T, error) {
	var zero T

	c.mu.RLock()
	if e, ok := c.entries[key]; ok && c.gen == gen && e.populated {
		v := e.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "ProcessCache.Compute", trace.WithAttributes(attribute.String("groundhog.key", key)))
		defer span.End()
	}
	if c.computeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.computeTimeout)
		defer cancel()
	}

	start := time.Now()
	c.computes.Add(1)
	if c.computeCounter != nil {
		c.computeCounter.Inc()
	}
	v, err := fn(ctx)
	latency := time.Since(start)
	if c.computeHist != nil {
		c.computeHist.Observe(latency.Seconds())
	}
	if c.traceEnabled {
		span.SetAttributes(attribute.Int64("groundhog.cache.compute_ms", latency.Milliseconds()))
	}
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			err = ghErrors.ErrTimeout
		}
		if c.computeErrCounter != nil {
			c.computeErrCounter.Inc()
		}
		if c.traceEnabled {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.logger.Warn("groundhog: compute failed", "key", key, "error", err)
		return zero, fmt.Errorf("compute %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		c.logger.Debug("groundhog: dropping compute result across reset", "key", key, "generation", gen)
		return v, nil
	}
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{compute: fn}
		c.entries[key] = e
	}
	if e.populated {
		// a Set landed while computing and is the most recent write
		return e.value, nil
	}
	e.value = v
	e.populated = true
	return v, nil
}

// Set stores value for key unconditionally and returns what the key held
// before. It never fails.
func (c *ProcessCache[T]) Set(ctx context.Context, key string, value T) Previous[T] {
	if c.traceEnabled {
		var span trace.Span
		_, span = tracer.Start(ctx, "ProcessCache.Set", trace.WithAttributes(attribute.String("groundhog.key", key)))
		defer span.End()
	}
	metrics.SetCounter.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.entries[key] = &entry[T]{value: value, populated: true}
		return Previous[T]{}
	}
	prev := Previous[T]{Value: e.value, Present: e.populated}
	e.value = value
	e.populated = true
	return prev
}

// Register attaches a compute function to key for the current load. It is
// dropped by the next Reset unless the seed declares it. Registering does not
// clear a populated value.
func (c *ProcessCache[T]) Register(key string, fn ComputeFunc[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.compute = fn
		return
	}
	c.entries[key] = &entry[T]{compute: fn}
}

// Invalidate returns key to the unpopulated state when it has a compute
// function and removes it otherwise. It reports whether the key existed.
func (c *ProcessCache[T]) Invalidate(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.compute == nil {
		delete(c.entries, key)
		return true
	}
	var zero T
	e.value = zero
	e.populated = false
	return true
}

// Reset drops every entry and rebuilds the seed state. It is idempotent and
// never fails. Hooks registered with OnReset run after the new state is in
// place.
func (c *ProcessCache[T]) Reset(ctx context.Context) {
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "ProcessCache.Reset")
		defer span.End()
	}
	fresh := c.seed.build(c.clone)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.entries = fresh
	c.mu.Unlock()

	c.resets.Add(1)
	metrics.ResetCounter.Inc()
	c.logger.Info("groundhog: cache reset", "generation", gen, "entries", len(fresh))

	c.hooksMu.Lock()
	hooks := append([]func(context.Context){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

// OnReset registers fn to run after every Reset. Hooks survive resets.
func (c *ProcessCache[T]) OnReset(fn func(ctx context.Context)) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

// Has reports whether key holds a value or can compute one.
func (c *ProcessCache[T]) Has(key string) bool {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	return ok
}

// Entry returns a snapshot of the entry for key.
func (c *ProcessCache[T]) Entry(key string) (CacheEntry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return CacheEntry[T]{}, false
	}
	return CacheEntry[T]{Key: key, Value: e.value, Populated: e.populated}, true
}

// Keys returns the known keys in sorted order.
func (c *ProcessCache[T]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Computes   uint64
	Resets     uint64
	Size       int
	Generation uint64
}

// Metrics returns current metrics for the cache.
func (c *ProcessCache[T]) Metrics() Stats {
	c.mu.RLock()
	size := len(c.entries)
	gen := c.gen
	c.mu.RUnlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Computes:   c.computes.Load(),
		Resets:     c.resets.Load(),
		Size:       size,
		Generation: gen,
	}
}
