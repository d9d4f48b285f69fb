// Package metrics collects the server's operational counters on a
// private Prometheus registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection classification labels.
const (
	ProtocolHTTP     = "http"
	ProtocolHTTPS    = "https"
	ProtocolRejected = "rejected"
)

// Collector holds the server metrics. It owns its registry so tests can
// create collectors independently.
type Collector struct {
	registry *prometheus.Registry

	connectionsAccepted *prometheus.CounterVec
	sessionsActive      prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
}

// NewCollector creates a collector under the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		connectionsAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_accepted_total",
				Help:      "Accepted connections by detected protocol",
			},
			[]string{"protocol"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Connection sessions currently live",
			},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Served HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
	}
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ConnectionAccepted records a classified connection.
func (c *Collector) ConnectionAccepted(protocol string) {
	c.connectionsAccepted.WithLabelValues(protocol).Inc()
}

// SessionStarted marks a session as live; the returned func marks it done.
func (c *Collector) SessionStarted() func() {
	c.sessionsActive.Inc()
	return c.sessionsActive.Dec
}

// RequestServed records one served request.
func (c *Collector) RequestServed(method string, status int) {
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
