// Package metrics defines the Prometheus instrumentation shared by the
// dartbot components and the optional /metrics listener.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the application registers. Components
// accept a *Metrics and treat nil as "instrumentation disabled".
type Metrics struct {
	registry *prometheus.Registry

	// Logins counts login handshake completions by result (ok|error).
	Logins *prometheus.CounterVec

	// SyncRequests counts synchronizer runs by result (fetched|noop|error).
	SyncRequests *prometheus.CounterVec

	// SyncRows counts points fetched from the remote history endpoint.
	SyncRows prometheus.Counter

	// GatewaySeconds observes gateway request latency by method.
	GatewaySeconds *prometheus.HistogramVec

	// StreamTicks counts ticks received on the live stream.
	StreamTicks prometheus.Counter
}

// New creates a Metrics bundle on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dartbot",
			Name:      "logins_total",
			Help:      "Login handshake completions by result.",
		}, []string{"result"}),
		SyncRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dartbot",
			Name:      "sync_requests_total",
			Help:      "Historical sync runs by result.",
		}, []string{"result"}),
		SyncRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dartbot",
			Name:      "sync_rows_total",
			Help:      "Points fetched from the remote history endpoint.",
		}),
		GatewaySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dartbot",
			Name:      "gateway_request_seconds",
			Help:      "Gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		StreamTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dartbot",
			Name:      "stream_ticks_total",
			Help:      "Ticks received on the live stream.",
		}),
	}
}

// Serve starts the /metrics listener on the given port in a background
// goroutine. Port 0 disables the listener.
func (m *Metrics) Serve(port int) {
	if m == nil || port == 0 {
		return
	}
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	go func() {
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
