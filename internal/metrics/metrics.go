// Package metrics defines the Prometheus collectors for the pipeline and the
// read endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finished cycles by result ("success" or an error kind).
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airquality_cycles_total",
			Help: "Number of pipeline cycles by result.",
		},
		[]string{"result"},
	)

	// CycleDuration observes the wall time of every cycle.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airquality_cycle_duration_seconds",
			Help:    "Duration of pipeline cycles.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// LastSuccess is the Unix time of the most recent successful cycle.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airquality_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle.",
		},
	)

	// SnapshotReads counts read endpoint requests by status ("ok" or "empty").
	SnapshotReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airquality_snapshot_reads_total",
			Help: "Number of snapshot reads by status.",
		},
		[]string{"status"},
	)
)
