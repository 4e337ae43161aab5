// Package metrics holds the Prometheus collectors of the run engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run metrics
var (
	// RunsSubmittedTotal tracks submission attempts by outcome (running, failed)
	RunsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualitygate_runs_submitted_total",
			Help: "Total number of run submissions by outcome",
		},
		[]string{"outcome"},
	)

	// RunsFinishedTotal tracks terminal runs by status and overall result
	RunsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualitygate_runs_finished_total",
			Help: "Total number of finished runs by status and overall result",
		},
		[]string{"status", "overall_result"},
	)

	// RunsTimedOutTotal tracks runs failed by the poller timeout
	RunsTimedOutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qualitygate_runs_timed_out_total",
			Help: "Total number of runs failed because they exceeded the run timeout",
		},
	)

	// RunDuration tracks time from creation to completion
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qualitygate_run_duration_seconds",
			Help:    "Run duration from creation to completion in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		},
		[]string{"status"},
	)

	// RunsActive tracks pending and running runs seen by the last sweep
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qualitygate_runs_active",
			Help: "Number of pending or running runs seen by the last sweep",
		},
	)

	// RunsInconsistentTotal tracks running runs without a complete job reference
	RunsInconsistentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qualitygate_runs_inconsistent_total",
			Help: "Total number of sweeps that found a running run without a job reference",
		},
	)

	// ResultFetchAttempts tracks result document download attempts
	ResultFetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualitygate_result_fetch_attempts_total",
			Help: "Total number of result document download attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// Executor metrics
var (
	// ExecutorStatusLookups tracks finish checks by source and outcome
	ExecutorStatusLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualitygate_executor_status_lookups_total",
			Help: "Total number of executor status lookups by source and outcome",
		},
		[]string{"source", "outcome"},
	)
)

// Finding metrics
var (
	// FindingsReconciled tracks finding changes made by reconciliation
	FindingsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qualitygate_findings_reconciled_total",
			Help: "Total number of finding changes by reconciliation, by change",
		},
		[]string{"change"},
	)

	// FindingsProcessingErrors tracks reconciliations that failed and were skipped
	FindingsProcessingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qualitygate_findings_processing_errors_total",
			Help: "Total number of findings reconciliations that failed",
		},
	)
)
