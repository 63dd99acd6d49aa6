package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barsync_dates_processed_total",
			Help: "Date-units processed, by terminal status",
		},
		[]string{"status"}, // completed, failed
	)

	recordsLoadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barsync_records_loaded_total",
			Help: "Price-bar records loaded into the store",
		},
	)

	dateDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "barsync_date_duration_seconds",
			Help:    "Wall time per date-unit, download through load",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
	)

	downloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barsync_downloads_in_flight",
			Help: "Date-units currently downloading",
		},
	)

	jobDatesRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barsync_job_dates_remaining",
			Help: "Dates not yet settled in the running job",
		},
	)

	instrumentsDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barsync_instruments_discovered_total",
			Help: "New instruments inserted by discovery runs",
		},
	)
)
