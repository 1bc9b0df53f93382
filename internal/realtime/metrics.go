// SPDX-License-Identifier: MIT

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "realtime",
		Name:      "events_pushed_total",
		Help:      "Events delivered to subscriber queues.",
	})
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Events dropped due to subscriber queue overflow.",
	})
	metricAIRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "assistant",
		Name:      "requests_total",
		Help:      "Assistant ask requests.",
	})
	metricAIErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videocatalog",
		Subsystem: "assistant",
		Name:      "errors_total",
		Help:      "Assistant ask requests that ended in an error.",
	})
	metricConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "videocatalog",
		Subsystem: "realtime",
		Name:      "subscribers_connected",
		Help:      "Live subscribers by transport.",
	}, []string{"transport"})
	metricEventLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "videocatalog",
		Subsystem: "realtime",
		Name:      "event_lag_seconds",
		Help:      "Delivery lag between event timestamp and fan-out.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)
