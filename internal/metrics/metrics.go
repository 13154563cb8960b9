// Package metrics owns the server's Prometheus registry and the
// data-store bytes-used gauge; the manager registers its own collectors
// (including queue depth) into the same registry. It mirrors the registration style the Docker health monitor
// uses for its own namespaced gauges and counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide collector registry. It is created fresh
// rather than reusing prometheus.DefaultRegisterer so tests can spin up
// independent Manager/DataStore instances without collector collisions.
type Registry struct {
	prometheus.Registerer
	prometheus.Gatherer

	DataStoreBytesUsed prometheus.Gauge
}

// New creates a Registry with the data-store gauge pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	dataStoreBytesUsed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiwibes",
		Subsystem: "datastore",
		Name:      "bytes_used",
		Help:      "Current total of |key|+|value| across all data-store entries.",
	})
	reg.MustRegister(dataStoreBytesUsed)

	return &Registry{
		Registerer:         reg,
		Gatherer:           reg,
		DataStoreBytesUsed: dataStoreBytesUsed,
	}
}
