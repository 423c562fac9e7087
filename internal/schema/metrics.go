package schema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tablesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractsync_event_tables_created_total",
			Help: "Total number of per-contract event tables created",
		},
	)

	schemaMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractsync_schema_mismatches_total",
			Help: "Total number of occurrences rejected by the frozen table shape",
		},
	)
)

func tablesCreatedInc() {
	tablesCreated.Inc()
}

func schemaMismatchInc() {
	schemaMismatches.Inc()
}
