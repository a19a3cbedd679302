// Package metrics exposes Prometheus collectors for the backfill.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsCompleted tracks units that finished all four stages.
	UnitsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardetl_units_completed_total",
			Help: "Total number of work units completed",
		},
	)

	// UnitsFailed tracks units that ended a run in the failed state.
	UnitsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardetl_units_failed_total",
			Help: "Total number of work units that failed",
		},
	)

	// RecordsProcessed tracks published price records.
	RecordsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardetl_records_processed_total",
			Help: "Total number of price records processed",
		},
	)

	// StageRetries tracks retry attempts per stage.
	StageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardetl_stage_retries_total",
			Help: "Total number of stage retry attempts",
		},
		[]string{"stage"},
	)

	// StageFailures tracks terminal stage failures per stage.
	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardetl_stage_failures_total",
			Help: "Total number of terminal stage failures",
		},
		[]string{"stage"},
	)

	// StageDuration tracks wall-clock time per stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardetl_stage_duration_seconds",
			Help:    "Stage execution time in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// UnitsRemaining tracks how many units the current run still has.
	UnitsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardetl_units_remaining",
			Help: "Work units remaining in the current run",
		},
	)
)
