// SPDX-License-Identifier: MIT

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "scheduler",
		Name:      "jobs_completed_total",
		Help:      "Jobs finished successfully.",
	}, []string{"kind"})
	metricJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "scheduler",
		Name:      "jobs_failed_total",
		Help:      "Job executions that returned an error (including retried ones).",
	}, []string{"kind"})
	metricJobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "scheduler",
		Name:      "leases_reaped_total",
		Help:      "Expired leases returned to the queue.",
	})
	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "videocatalog",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock job execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 3, 8),
	}, []string{"kind"})
)
