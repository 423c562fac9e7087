package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync cycle metrics
	cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_cycles_total",
			Help: "Total number of sync cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contractsync_cycle_duration_seconds",
			Help:    "Duration of sync cycles",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	CycleRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractsync_cycle_running",
			Help: "Whether a sync cycle is in progress (1=running, 0=idle)",
		},
	)

	LastCycleStat = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contractsync_last_cycle",
			Help: "Counters of the last completed sync cycle",
		},
		[]string{"stat"},
	)

	// Per (contract, event) pair metrics
	MaxSyncableBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contractsync_max_syncable_block",
			Help: "The highest block a pair may be synced to",
		},
		[]string{"contract", "event"},
	)

	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_blocks_scanned_total",
			Help: "Total number of unsynced blocks fetched and decoded",
		},
		[]string{"contract", "event"},
	)

	BlocksMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_blocks_missing_total",
			Help: "Total number of blocks that could not be fetched",
		},
		[]string{"contract", "event"},
	)

	OccurrencesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_occurrences_total",
			Help: "Total number of decoded event occurrences",
		},
		[]string{"contract", "event"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractsync_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractsync_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contractsync_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractsync_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contractsync_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// CycleLog records the outcome of a finished sync cycle.
func CycleLog(result string, duration time.Duration) {
	cycles.WithLabelValues(result).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// CycleSkippedInc counts a trigger that found a cycle already running.
func CycleSkippedInc() {
	cycles.WithLabelValues("skipped").Inc()
}

func CycleRunningSet(running bool) {
	CycleRunning.Set(boolAsFloat(running))
}

func LastCycleStatSet(stat string, value uint64) {
	LastCycleStat.WithLabelValues(stat).Set(float64(value))
}

func MaxSyncableBlockSet(contractID, eventID, block uint64) {
	MaxSyncableBlock.WithLabelValues(pairLabels(contractID, eventID)...).Set(float64(block))
}

func BlocksScannedInc(contractID, eventID uint64) {
	BlocksScanned.WithLabelValues(pairLabels(contractID, eventID)...).Inc()
}

func BlocksMissingInc(contractID, eventID uint64) {
	BlocksMissing.WithLabelValues(pairLabels(contractID, eventID)...).Inc()
}

func OccurrencesFoundAdd(contractID, eventID uint64, count int) {
	OccurrencesFound.WithLabelValues(pairLabels(contractID, eventID)...).Add(float64(count))
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	ComponentHealth.WithLabelValues(component).Set(boolAsFloat(healthy))
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

func pairLabels(contractID, eventID uint64) []string {
	return []string{strconv.FormatUint(contractID, 10), strconv.FormatUint(eventID, 10)}
}

func boolAsFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
