// Package metrics exposes tollgate's own Prometheus instrumentation and keeps
// a short in-memory history of evaluation cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/willibrandon/tollgate/internal/alerts"
)

var (
	// RequestsTotal counts HTTP requests by route template, method and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration tracks HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tollgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method"},
	)

	// SamplesIngested counts samples accepted by ingest.
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_samples_ingested_total",
			Help: "Total number of traffic samples upserted",
		},
	)

	// SamplesPruned counts samples removed by retention.
	SamplesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_samples_pruned_total",
			Help: "Total number of traffic samples removed by retention",
		},
	)

	// CyclesTotal counts evaluation cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_evaluation_cycles_total",
			Help: "Total number of evaluation cycles by result",
		},
		[]string{"result"},
	)

	// CyclesSkipped counts ticks dropped because a cycle was still running.
	CyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_evaluation_ticks_skipped_total",
			Help: "Total number of scheduler ticks skipped due to an in-flight cycle",
		},
	)

	// CycleDuration tracks evaluation cycle latency.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tollgate_evaluation_cycle_duration_seconds",
			Help:    "Evaluation cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	// ManagedServices is the service count seen by the last cycle.
	ManagedServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tollgate_managed_services",
			Help: "Number of managed services in the last evaluation cycle",
		},
	)

	// AlertTransitions counts alert transitions by rule and kind.
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_alert_transitions_total",
			Help: "Total number of alert transitions by rule type and transition",
		},
		[]string{"alert_type", "transition"},
	)

	// AlertsAcknowledged counts successful acknowledgements.
	AlertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		},
	)
)

// ObserveCycle records a finished evaluation cycle.
func ObserveCycle(report alerts.CycleReport, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(report.Duration.Seconds())
	ManagedServices.Set(float64(report.Services))

	for _, c := range report.Changes {
		AlertTransitions.WithLabelValues(string(c.Type), string(c.Transition)).Inc()
	}
}
