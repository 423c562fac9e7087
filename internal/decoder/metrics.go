package decoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decodeFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contractsync_decode_failures_total",
		Help: "Total number of matching logs whose data could not be decoded",
	},
	[]string{"event"},
)

func decodeFailureInc(event string) {
	decodeFailures.WithLabelValues(event).Inc()
}
