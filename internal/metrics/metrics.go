// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamStartTotal tracks stream start attempt outcomes.
	StreamStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_stream_start_total",
		Help: "Total number of stream start attempts by result and reason",
	}, []string{"result", "reason"})

	// FailoverTotal tracks automatic source switches by trigger.
	FailoverTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_failover_total",
		Help: "Total number of failover attempts by trigger and result",
	}, []string{"trigger", "result"})

	// ProbeDuration tracks pre-flight probe latency by outcome.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamwarden_probe_duration_seconds",
		Help:    "Pre-flight probe duration",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
	}, []string{"result"})

	// ActiveProcesses gauges currently supervised transcoder processes.
	ActiveProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwarden_active_processes",
		Help: "Number of currently supervised transcoder processes",
	})

	// AdmissionRejectedTotal counts candidates skipped over profile limits.
	AdmissionRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwarden_admission_rejected_total",
		Help: "Candidates skipped because the profile concurrency limit was reached",
	})

	// SourceRecoveredTotal counts sweeper-driven source recoveries.
	SourceRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwarden_source_recovered_total",
		Help: "Problematic sources restored to the candidate pool by the recovery sweeper",
	})
)

// IncStreamStart records a start attempt outcome.
func IncStreamStart(success bool, reason string) {
	result := "failure"
	if success {
		result = "success"
	}
	StreamStartTotal.WithLabelValues(result, reason).Inc()
}

// IncFailover records a failover attempt.
func IncFailover(trigger string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	FailoverTotal.WithLabelValues(trigger, result).Inc()
}

// ObserveProbe records one probe duration.
func ObserveProbe(success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	ProbeDuration.WithLabelValues(result).Observe(d.Seconds())
}
