package writer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractsync_rows_written_total",
			Help: "Total number of occurrences committed together with their progress record",
		},
	)

	writeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contractsync_write_duration_seconds",
			Help:    "Duration of occurrence write transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	writeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_write_failures_total",
			Help: "Total number of occurrence writes that were rolled back",
		},
		[]string{"kind"},
	)
)

func rowWrittenLog(duration time.Duration) {
	rowsWritten.Inc()
	writeDuration.Observe(duration.Seconds())
}

func writeFailureInc(kind FailureKind) {
	writeFailures.WithLabelValues(string(kind)).Inc()
}
