// SPDX-License-Identifier: MIT

package vectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "vectors",
		Name:      "rebuilds_total",
		Help:      "Completed semantic index rebuilds.",
	})
	metricPendingDrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "vectors",
		Name:      "pending_drained_total",
		Help:      "Rows consumed from vectors_pending.",
	})
	metricDocsIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "videocatalog",
		Subsystem: "vectors",
		Name:      "docs_indexed",
		Help:      "Documents in the current semantic index.",
	})
	metricSearches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "vectors",
		Name:      "searches_total",
		Help:      "ANN queries served.",
	})
)
