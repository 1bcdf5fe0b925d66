// Package metrics defines the Prometheus metrics in spec §6: routing
// outcomes, end-to-end latency, bytes relayed, and cached-connection /
// active-stream gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RoutingOutcomesTotal counts every forwarded request by how it ended:
	// ok, bad_request, not_found, connect_error, stream_error,
	// framing_error, truncated, upstream_error, timeout, cancelled.
	RoutingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datumconnect_routing_outcomes_total",
			Help: "Total number of forwarded requests, labeled by routing/forwarding outcome.",
		},
		[]string{"outcome"},
	)

	// RequestDurationSeconds measures end-to-end latency from inbound
	// accept to final byte written, labeled by HTTP method.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datumconnect_request_duration_seconds",
			Help:    "End-to-end latency of forwarded requests in seconds, labeled by method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BytesRelayedTotal counts bytes copied across the overlay stream,
	// labeled by direction (request or response).
	BytesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datumconnect_bytes_relayed_total",
			Help: "Total bytes relayed across overlay streams, labeled by direction.",
		},
		[]string{"direction"},
	)

	// CachedConnectionsGauge reports the current size of the
	// ConnectionManager cache.
	CachedConnectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datumconnect_cached_connections",
			Help: "Number of overlay connections currently cached by the ConnectionManager.",
		},
	)

	// ActiveStreamsGauge reports the number of in-flight overlay streams,
	// i.e. forwarded requests that have not yet completed.
	ActiveStreamsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datumconnect_active_streams",
			Help: "Number of overlay streams currently open for an in-flight request.",
		},
	)
)

// MustRegister registers every metric above on the default Prometheus
// registry. Call once at process startup, matching the teacher's
// observability.MustRegister.
func MustRegister() {
	prometheus.MustRegister(
		RoutingOutcomesTotal,
		RequestDurationSeconds,
		BytesRelayedTotal,
		CachedConnectionsGauge,
		ActiveStreamsGauge,
	)
}
