package dispatch

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK       = "ok"
	resultRejected = "rejected"
)

// framesTotal counts inbound frames by type and outcome. Unknown and
// unparsable types are folded into fixed labels to bound cardinality.
var framesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ws_frames_total",
		Help: "Total number of inbound websocket frames by type and result.",
	},
	[]string{"type", "result"},
)

func init() {
	prometheus.MustRegister(framesTotal)
}
