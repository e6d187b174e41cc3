// Package metrics registers the broker's Prometheus instrumentation,
// wired the way Pulse's internal/api package registers its own
// gauges/counters: a sync.Once-guarded init, a single MustRegister
// call, and small Record* helpers called from the hot path.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	connectionsActive    *prometheus.GaugeVec
	codeAdvancesTotal    prometheus.Counter
	clientsEvictedTotal  prometheus.Counter
	controllerRequests   *prometheus.CounterVec
)

func ensureRegistered() {
	once.Do(func() {
		connectionsActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ftbroker",
				Name:      "connections_active",
				Help:      "Number of currently registered websocket connections.",
			},
			[]string{"role"},
		)

		codeAdvancesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ftbroker",
				Name:      "code_advances_total",
				Help:      "Total number of auth code rotations.",
			},
		)

		clientsEvictedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ftbroker",
				Name:      "clients_evicted_total",
				Help:      "Total number of clients evicted due to code rotation.",
			},
		)

		controllerRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ftbroker",
				Name:      "controller_requests_total",
				Help:      "Total number of outbound requests to the controller, by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		prometheus.MustRegister(connectionsActive, codeAdvancesTotal, clientsEvictedTotal, controllerRequests)
	})
}

// SetConnectionsActive records the current connection count for a role
// ("app" or "client").
func SetConnectionsActive(role string, count int) {
	ensureRegistered()
	connectionsActive.WithLabelValues(role).Set(float64(count))
}

// RecordCodeAdvance increments the auth code rotation counter.
func RecordCodeAdvance() {
	ensureRegistered()
	codeAdvancesTotal.Inc()
}

// RecordClientEvicted increments the client eviction counter.
func RecordClientEvicted() {
	ensureRegistered()
	clientsEvictedTotal.Inc()
}

// RecordControllerRequest increments the controller-request counter for
// the given endpoint (the request URL path, e.g. "/current",
// "/placard/url") and
// outcome ("ok" or "error").
func RecordControllerRequest(endpoint, outcome string) {
	ensureRegistered()
	controllerRequests.WithLabelValues(endpoint, outcome).Inc()
}
