// SPDX-License-Identifier: MIT

// Package realtime tracks subscriber connections and delivery quality, and
// periodically flushes the snapshot to the metrics database.
package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/events"
)

const (
	lagWindow      = 120 * time.Second
	staleThreshold = 60 * time.Second
)

type lagSample struct {
	at time.Time
	ms float64
}

// Monitor is the realtime QoS accumulator. It implements events.Observer so
// the broker feeds it directly, and the HTTP layer reads snapshots from it.
type Monitor struct {
	mu sync.Mutex

	eventsPushed  float64
	eventsDropped float64
	aiRequests    float64
	aiErrors      float64
	sseConnected  int
	wsConnected   int

	lags     []lagSample
	lastSeen map[string]time.Time

	now func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		lastSeen: make(map[string]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ events.Observer = (*Monitor)(nil)

func (m *Monitor) EventDelivered(transport events.Transport, lag time.Duration) {
	metricEventsPushed.Inc()
	metricEventLag.Observe(lag.Seconds())
	m.mu.Lock()
	m.eventsPushed++
	m.lags = append(m.lags, lagSample{at: m.now(), ms: float64(lag.Milliseconds())})
	m.pruneLagsLocked()
	m.mu.Unlock()
}

func (m *Monitor) EventDropped(events.Transport) {
	metricEventsDropped.Inc()
	m.mu.Lock()
	m.eventsDropped++
	m.mu.Unlock()
}

func (m *Monitor) SubscriberConnected(transport events.Transport) {
	metricConnected.WithLabelValues(string(transport)).Inc()
	m.mu.Lock()
	if transport == events.TransportSSE {
		m.sseConnected++
	} else {
		m.wsConnected++
	}
	m.mu.Unlock()
}

func (m *Monitor) SubscriberDisconnected(transport events.Transport) {
	metricConnected.WithLabelValues(string(transport)).Dec()
	m.mu.Lock()
	if transport == events.TransportSSE && m.sseConnected > 0 {
		m.sseConnected--
	} else if transport == events.TransportWS && m.wsConnected > 0 {
		m.wsConnected--
	}
	m.mu.Unlock()
}

// AIRequest counts one assistant ask; failed marks it as errored.
func (m *Monitor) AIRequest(failed bool) {
	metricAIRequests.Inc()
	m.mu.Lock()
	m.aiRequests++
	if failed {
		m.aiErrors++
	}
	m.mu.Unlock()
	if failed {
		metricAIErrors.Inc()
	}
}

// Heartbeat records client liveness; subscribe transports call it on every
// delivery.
func (m *Monitor) Heartbeat(clientID string) {
	if clientID == "" {
		return
	}
	m.mu.Lock()
	m.lastSeen[clientID] = m.now()
	m.mu.Unlock()
}

// Forget drops the last-seen entry when a client unsubscribes.
func (m *Monitor) Forget(clientID string) {
	m.mu.Lock()
	delete(m.lastSeen, clientID)
	m.mu.Unlock()
}

// ClientStatus is one entry of the per-client liveness table.
type ClientStatus struct {
	ClientID    string `json:"client_id"`
	LastSeenUTC string `json:"last_seen_utc"`
	Stale       bool   `json:"stale"`
}

// Status is the QoS snapshot served by the API and flushed to the metrics DB.
type Status struct {
	EventsPushedTotal  float64        `json:"events_pushed_total"`
	EventsDroppedTotal float64        `json:"events_dropped_total"`
	AIRequestsTotal    float64        `json:"ai_requests_total"`
	AIErrorsTotal      float64        `json:"ai_errors_total"`
	SSEConnected       int            `json:"sse_connected"`
	WSConnected        int            `json:"ws_connected"`
	LagP50Ms           float64        `json:"lag_p50_ms"`
	LagP95Ms           float64        `json:"lag_p95_ms"`
	Clients            []ClientStatus `json:"clients"`
}

// Snapshot computes the current status, including lag percentiles over the
// 120-second window and per-client staleness.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLagsLocked()

	st := Status{
		EventsPushedTotal:  m.eventsPushed,
		EventsDroppedTotal: m.eventsDropped,
		AIRequestsTotal:    m.aiRequests,
		AIErrorsTotal:      m.aiErrors,
		SSEConnected:       m.sseConnected,
		WSConnected:        m.wsConnected,
	}

	if len(m.lags) > 0 {
		values := make([]float64, len(m.lags))
		for i, s := range m.lags {
			values[i] = s.ms
		}
		sort.Float64s(values)
		st.LagP50Ms = percentile(values, 0.50)
		st.LagP95Ms = percentile(values, 0.95)
	}

	now := m.now()
	ids := make([]string, 0, len(m.lastSeen))
	for id := range m.lastSeen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		seen := m.lastSeen[id]
		st.Clients = append(st.Clients, ClientStatus{
			ClientID:    id,
			LastSeenUTC: db.FormatUTC(seen),
			Stale:       now.Sub(seen) > staleThreshold,
		})
	}
	return st
}

// pruneLagsLocked discards samples older than the sliding window. Callers
// hold m.mu.
func (m *Monitor) pruneLagsLocked() {
	cutoff := m.now().Add(-lagWindow)
	first := 0
	for first < len(m.lags) && m.lags[first].at.Before(cutoff) {
		first++
	}
	if first > 0 {
		m.lags = append([]lagSample(nil), m.lags[first:]...)
	}
}

// percentile reads a sorted slice with nearest-rank rounding.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
