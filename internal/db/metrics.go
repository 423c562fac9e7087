package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_db_transactions_total",
			Help: "Total number of database transactions by outcome",
		},
		[]string{"status"},
	)

	transactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contractsync_db_transaction_duration_seconds",
			Help:    "Duration of database transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	rowsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractsync_db_rows_inserted_total",
			Help: "Total number of rows inserted into event tables",
		},
	)

	tableCreateErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractsync_db_table_create_errors_total",
			Help: "Total number of failed table creations",
		},
	)
)

func transactionLog(err error, duration time.Duration) {
	transactionDuration.Observe(duration.Seconds())
	if err != nil {
		transactions.WithLabelValues("rollback").Inc()
		return
	}
	transactions.WithLabelValues("commit").Inc()
}

func rowsInsertedInc() {
	rowsInserted.Inc()
}

func tableCreateErrorInc() {
	tableCreateErrors.Inc()
}
