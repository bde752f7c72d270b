package procache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a ProcessCache.
type Option[T any] func(*ProcessCache[T])

// WithLogger sets the logger used for compute failures and resets.
// slog.Default is used when none is provided.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *ProcessCache[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithComputeTimeout bounds every compute call. A non-positive duration
// leaves computes unbounded.
func WithComputeTimeout[T any](d time.Duration) Option[T] {
	return func(c *ProcessCache[T]) {
		c.computeTimeout = d
	}
}

// WithClone sets a function applied to seed values each time the seed is
// built, for value types that share memory such as slices and maps.
func WithClone[T any](fn func(T) T) Option[T] {
	return func(c *ProcessCache[T]) {
		c.clone = fn
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[T any](reg prometheus.Registerer) Option[T] {
	return func(c *ProcessCache[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundhog_cache_hits_total",
			Help: "Total number of reads served from a populated entry",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundhog_cache_misses_total",
			Help: "Total number of reads of keys with no value and no compute function",
		})
		c.computeCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundhog_cache_computes_total",
			Help: "Total number of compute function invocations",
		})
		c.computeErrCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundhog_cache_compute_errors_total",
			Help: "Total number of failed compute function invocations",
		})
		c.computeHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groundhog_cache_compute_seconds",
			Help:    "Latency of compute function invocations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.computeCounter, c.computeErrCounter, c.computeHist)
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing[T any]() Option[T] {
	return func(c *ProcessCache[T]) {
		c.traceEnabled = true
	}
}
