// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ShardEvents counts dispatch events received from the gateway, by
	// event type.
	ShardEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_shard_events",
		Help: "Dispatch events received from the Discord gateway.",
	}, []string{"shard", "event_type"})

	// ShardLatency samples the heartbeat round trip of the upstream
	// connection, in seconds.
	ShardLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_shard_latency",
		Help:    "Heartbeat latency of the upstream gateway connection in seconds.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"shard"})

	// ShardStatus samples the connection stage on a fixed 0..4 scale:
	// disconnected, handshaking, identifying, resuming, connected.
	ShardStatus = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_shard_status",
		Help:    "Connection stage of the upstream gateway connection (0=disconnected..4=connected).",
		Buckets: []float64{0, 1, 2, 3, 4},
	}, []string{"shard"})

	// ClientsConnected tracks the number of downstream clients currently
	// attached to each shard.
	ClientsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_clients_connected",
		Help: "Downstream WebSocket clients currently connected.",
	}, []string{"shard"})

	// ClientsLagged counts clients disconnected because they fell behind
	// the broadcast ring.
	ClientsLagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_client_lagged",
		Help: "Downstream clients disconnected for falling behind the event stream.",
	}, []string{"shard"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
