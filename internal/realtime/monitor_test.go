// SPDX-License-Identifier: MIT

package realtime

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/events"
)

func newClockedMonitor(start time.Time) (*Monitor, *time.Time) {
	m := NewMonitor()
	now := start
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor()

	m.EventDelivered(events.TransportSSE, 100*time.Millisecond)
	m.EventDelivered(events.TransportWS, 200*time.Millisecond)
	m.EventDropped(events.TransportSSE)
	m.AIRequest(false)
	m.AIRequest(true)

	st := m.Snapshot()
	assert.Equal(t, float64(2), st.EventsPushedTotal)
	assert.Equal(t, float64(1), st.EventsDroppedTotal)
	assert.Equal(t, float64(2), st.AIRequestsTotal)
	assert.Equal(t, float64(1), st.AIErrorsTotal)
}

func TestMonitorConnectionGauges(t *testing.T) {
	m := NewMonitor()

	m.SubscriberConnected(events.TransportSSE)
	m.SubscriberConnected(events.TransportSSE)
	m.SubscriberConnected(events.TransportWS)
	m.SubscriberDisconnected(events.TransportSSE)

	st := m.Snapshot()
	assert.Equal(t, 1, st.SSEConnected)
	assert.Equal(t, 1, st.WSConnected)

	// Gauges never go negative.
	m.SubscriberDisconnected(events.TransportWS)
	m.SubscriberDisconnected(events.TransportWS)
	st = m.Snapshot()
	assert.Equal(t, 0, st.WSConnected)
}

func TestMonitorLagPercentiles(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, now := newClockedMonitor(start)

	for i := 1; i <= 100; i++ {
		m.EventDelivered(events.TransportSSE, time.Duration(i)*time.Millisecond)
	}
	st := m.Snapshot()
	assert.InDelta(t, 51, st.LagP50Ms, 1)
	assert.InDelta(t, 96, st.LagP95Ms, 1)

	// Samples age out of the 120-second window.
	*now = start.Add(121 * time.Second)
	st = m.Snapshot()
	assert.Zero(t, st.LagP50Ms)
	assert.Zero(t, st.LagP95Ms)
}

func TestMonitorClientStaleness(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m, now := newClockedMonitor(start)

	m.Heartbeat("alive")
	m.Heartbeat("gone")
	*now = start.Add(61 * time.Second)
	m.Heartbeat("alive")

	st := m.Snapshot()
	require.Len(t, st.Clients, 2)
	assert.Equal(t, "alive", st.Clients[0].ClientID)
	assert.False(t, st.Clients[0].Stale)
	assert.Equal(t, "gone", st.Clients[1].ClientID)
	assert.True(t, st.Clients[1].Stale)

	m.Forget("gone")
	st = m.Snapshot()
	require.Len(t, st.Clients, 1)

	// Empty client ids are ignored.
	m.Heartbeat("")
	assert.Len(t, m.Snapshot().Clients, 1)
}

func TestFlusherWritesRows(t *testing.T) {
	m := NewMonitor()
	m.EventDelivered(events.TransportSSE, 50*time.Millisecond)
	m.SubscriberConnected(events.TransportSSE)

	f, err := NewFlusher(m, filepath.Join(t.TempDir(), "web_metrics.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.NoError(t, f.Flush())
	require.NoError(t, f.Flush())

	var count int
	require.NoError(t, f.conn.QueryRow(`SELECT COUNT(*) FROM web_metrics`).Scan(&count))
	assert.Equal(t, 16, count, "eight series per flush")

	var value float64
	require.NoError(t, f.conn.QueryRow(
		`SELECT value FROM web_metrics WHERE series = 'subscribers_connected' AND labels_json LIKE '%sse%'
		 ORDER BY id DESC LIMIT 1`).Scan(&value))
	assert.Equal(t, float64(1), value)
}
