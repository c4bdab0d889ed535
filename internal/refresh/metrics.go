package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished refreshes by outcome (success, empty, failure).
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of refresh runs by result",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "run_duration_seconds",
			Help:      "Duration of refresh runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	coalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "coalesced_total",
			Help:      "Refresh requests folded into a run already in flight",
		},
	)

	inProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "in_progress",
			Help:      "1 while a refresh is running",
		},
	)

	employeesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "employees",
			Help:      "Employees in the last published tree",
		},
	)

	droppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "records_dropped_total",
			Help:      "Directory records dropped for a missing id or name",
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		},
	)

	nextRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orgchart",
			Subsystem: "refresh",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled refresh, 0 when none",
		},
	)
)
