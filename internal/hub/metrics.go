package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsConnections gauges the number of registered websocket connections.
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of registered websocket connections.",
		},
	)

	// wsDeliveries counts events handed to a connection's send queue, by event type.
	wsDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_deliveries_total",
			Help: "Total number of events queued for delivery to a connection.",
		},
		[]string{"type"},
	)

	// wsDeliveryFailures counts deliveries that failed and evicted the connection.
	wsDeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_delivery_failures_total",
			Help: "Total number of failed deliveries; the connection is removed.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsDeliveries, wsDeliveryFailures)
}
