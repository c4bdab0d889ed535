package directory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts Graph requests by HTTP status, or "error" for
	// transport failures.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgchart",
			Subsystem: "directory",
			Name:      "requests_total",
			Help:      "Total number of directory requests by status code",
		},
		[]string{"code"},
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orgchart",
			Subsystem: "directory",
			Name:      "request_duration_seconds",
			Help:      "Duration of directory page requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// breakerState mirrors gobreaker.State (0=closed, 1=half-open, 2=open).
	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orgchart",
			Subsystem: "directory",
			Name:      "breaker_state",
			Help:      "Circuit breaker state for directory requests",
		},
	)

	importRowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgchart",
			Subsystem: "directory",
			Name:      "import_rows_skipped_total",
			Help:      "Rows skipped during file imports for missing id or name",
		},
	)
)
