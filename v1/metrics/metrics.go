// Package metrics holds the process-wide Prometheus counters shared by every
// cache, reloader and bus in the process. Per-cache collectors are created by
// procache.WithMetrics instead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "groundhog"

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

var (
	// GetCounter counts ProcessCache.Get calls, hits and computes alike.
	GetCounter = counter("get_total", "Reads issued against any process cache")
	// SetCounter counts ProcessCache.Set calls.
	SetCounter = counter("set_total", "Overwrites issued against any process cache")
	// ResetCounter counts returns to the seed state, local or remote.
	ResetCounter = counter("reset_total", "Times a process cache was rebuilt from its seed")
	// ReloadCounter counts reload events applied from other processes.
	ReloadCounter = counter("reload_total", "Remote reload events applied by reloaders")
	// BreakerOpenCounter counts transitions of a bus circuit breaker to open.
	BreakerOpenCounter = counter("bus_breaker_open_total", "Times a reload bus circuit breaker tripped")
)

// Collectors lists the process-wide collectors in registration order.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{GetCounter, SetCounter, ResetCounter, ReloadCounter, BreakerOpenCounter}
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the process-wide collectors on reg. It
// panics if they are already registered there.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Collectors()...)
}
