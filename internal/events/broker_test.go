// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/db"
)

type recordingObserver struct {
	mu           sync.Mutex
	delivered    int
	dropped      int
	connected    int
	disconnected int
}

func (o *recordingObserver) EventDelivered(Transport, time.Duration) {
	o.mu.Lock()
	o.delivered++
	o.mu.Unlock()
}

func (o *recordingObserver) EventDropped(Transport) {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *recordingObserver) SubscriberConnected(Transport) {
	o.mu.Lock()
	o.connected++
	o.mu.Unlock()
}

func (o *recordingObserver) SubscriberDisconnected(Transport) {
	o.mu.Lock()
	o.disconnected++
	o.mu.Unlock()
}

func newEventDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenRW(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.EnsureCatalogSchema(conn))
	return conn
}

func appendEvents(t *testing.T, conn *sql.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := conn.Exec(`INSERT INTO events_queue (kind, payload_json) VALUES (?, ?)`,
			"catalog.movie.upsert", fmt.Sprintf(`{"id":%d}`, i))
		require.NoError(t, err)
	}
}

func TestBrokerStartsAtQueueHead(t *testing.T) {
	conn := newEventDB(t)
	appendEvents(t, conn, 5)

	b, err := NewBroker(conn, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.LastSeq(), "pre-existing events are not replayed to nobody")
}

func TestBrokerReplayThenLive(t *testing.T) {
	conn := newEventDB(t)
	appendEvents(t, conn, 3)

	obs := &recordingObserver{}
	b, err := NewBroker(conn, Config{PollInterval: minPollInterval}, obs)
	require.NoError(t, err)

	// Cold subscriber with last_seq=0 gets the full backlog as a replay
	// prefix before any live events.
	sub, err := b.Subscribe(context.Background(), TransportSSE, "client-a", 0)
	require.NoError(t, err)

	var seqs []int64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			seqs = append(seqs, ev.Seq)
		default:
			t.Fatalf("expected replayed event %d", i)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)

	// Live events follow the replay with increasing seq.
	appendEvents(t, conn, 2)
	require.NoError(t, b.poll(context.Background()))

	ev := <-sub.Events()
	assert.Equal(t, int64(4), ev.Seq)
	ev = <-sub.Events()
	assert.Equal(t, int64(5), ev.Seq)
	assert.Equal(t, int64(5), b.LastSeq())
}

func TestBrokerMonotonicSeqPerSubscriber(t *testing.T) {
	conn := newEventDB(t)
	b, err := NewBroker(conn, Config{}, nil)
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), TransportWS, "", -1)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID, "client id is generated when absent")

	for round := 0; round < 3; round++ {
		appendEvents(t, conn, 4)
		require.NoError(t, b.poll(context.Background()))
	}

	var prev int64
	for i := 0; i < 12; i++ {
		ev := <-sub.Events()
		assert.Greater(t, ev.Seq, prev)
		prev = ev.Seq
	}
}

func TestBrokerOverflowEvictsSlowSubscriber(t *testing.T) {
	conn := newEventDB(t)
	obs := &recordingObserver{}
	b, err := NewBroker(conn, Config{QueueSize: 2, BatchLimit: 10}, obs)
	require.NoError(t, err)

	slow, err := b.Subscribe(context.Background(), TransportSSE, "slow", -1)
	require.NoError(t, err)

	// 5 events into a queue of 2: overflow on the third enqueue.
	appendEvents(t, conn, 5)
	require.NoError(t, b.poll(context.Background()))

	assert.Equal(t, int64(1), slow.Dropped())
	obs.mu.Lock()
	assert.Equal(t, 2, obs.delivered)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 1, obs.disconnected)
	obs.mu.Unlock()

	// The channel holds the two delivered events, then closes.
	<-slow.Events()
	<-slow.Events()
	_, open := <-slow.Events()
	assert.False(t, open, "evicted subscriber sees end-of-stream")

	sse, ws := b.SubscriberCount()
	assert.Zero(t, sse+ws)

	// Unsubscribe after eviction is a no-op.
	b.Unsubscribe("slow")
	obs.mu.Lock()
	assert.Equal(t, 1, obs.disconnected)
	obs.mu.Unlock()
}

func TestBrokerCoalescesLargeBatch(t *testing.T) {
	conn := newEventDB(t)
	b, err := NewBroker(conn, Config{BatchLimit: 128, QueueSize: 512}, nil)
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), TransportSSE, "c", -1)
	require.NoError(t, err)

	// 60 events over 6 distinct ids: above the coalesce threshold, so only
	// the latest event per id survives.
	for i := 0; i < 60; i++ {
		_, err := conn.Exec(`INSERT INTO events_queue (kind, payload_json) VALUES (?, ?)`,
			"catalog.movie.upsert", fmt.Sprintf(`{"id":%d}`, i%6))
		require.NoError(t, err)
	}
	require.NoError(t, b.poll(context.Background()))

	var got []int64
	for i := 0; i < 6; i++ {
		ev := <-sub.Events()
		got = append(got, ev.Seq)
	}
	assert.Equal(t, []int64{55, 56, 57, 58, 59, 60}, got)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event seq %d", ev.Seq)
	default:
	}
	assert.Equal(t, int64(60), b.LastSeq(), "lastSeq advances past coalesced events")
}

func TestBrokerRunStops(t *testing.T) {
	conn := newEventDB(t)
	b, err := NewBroker(conn, Config{PollInterval: minPollInterval}, nil)
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), TransportSSE, "c", -1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not stop")
	}

	_, open := <-sub.Events()
	assert.False(t, open, "stop closes subscriber streams")
}

func TestBrokerReconnectSupersedes(t *testing.T) {
	conn := newEventDB(t)
	obs := &recordingObserver{}
	b, err := NewBroker(conn, Config{}, obs)
	require.NoError(t, err)

	first, err := b.Subscribe(context.Background(), TransportWS, "same", -1)
	require.NoError(t, err)
	second, err := b.Subscribe(context.Background(), TransportWS, "same", -1)
	require.NoError(t, err)

	_, open := <-first.Events()
	assert.False(t, open, "old stream closes on reconnect")

	appendEvents(t, conn, 1)
	require.NoError(t, b.poll(context.Background()))
	ev := <-second.Events()
	assert.Equal(t, int64(1), ev.Seq)
}
