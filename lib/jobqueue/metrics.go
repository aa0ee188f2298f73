// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the queue's Prometheus collectors.
type Metrics struct {
	queued    prometheus.Gauge
	running   prometheus.Gauge
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	wait      prometheus.Summary
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bureau_ci",
			Subsystem: "queue",
			Name:      "jobs_queued",
			Help:      "Jobs waiting to be claimed.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bureau_ci",
			Subsystem: "queue",
			Name:      "jobs_running",
			Help:      "Jobs claimed by a worker and not yet completed.",
		}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bureau_ci",
			Subsystem: "queue",
			Name:      "jobs_submitted_total",
			Help:      "Jobs pushed onto the queue.",
		}, []string{"project"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bureau_ci",
			Subsystem: "queue",
			Name:      "jobs_completed_total",
			Help:      "Jobs completed, by final status.",
		}, []string{"status"}),
		wait: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  "bureau_ci",
			Subsystem:  "queue",
			Name:       "claim_wait_seconds",
			Help:       "Time between push and claim.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.queued, metrics.running, metrics.submitted, metrics.completed, metrics.wait)
	}
	return metrics
}
