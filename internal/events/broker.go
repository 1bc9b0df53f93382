// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/log"
)

const (
	defaultBatchLimit   = 128
	defaultPollInterval = time.Second
	minPollInterval     = 200 * time.Millisecond
	defaultQueueSize    = 512
	coalesceThreshold   = 50
)

// Observer receives delivery-quality signals. The realtime monitor implements
// it; a nil observer disables accounting.
type Observer interface {
	EventDelivered(transport Transport, lag time.Duration)
	EventDropped(transport Transport)
	SubscriberConnected(transport Transport)
	SubscriberDisconnected(transport Transport)
}

// Config tunes the broker poll loop.
type Config struct {
	BatchLimit   int
	PollInterval time.Duration
	QueueSize    int
}

func (c Config) withDefaults() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = defaultBatchLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Broker runs the single poller over events_queue and fans batches out to
// registered subscribers. Writers are never blocked: the queue is append-only
// and the broker only reads.
type Broker struct {
	conn   *sql.DB
	cfg    Config
	obs    Observer
	logger zerolog.Logger

	mu      sync.Mutex
	subs    map[string]*Subscriber
	lastSeq int64
}

// NewBroker starts from the current queue head: on first poll it skips
// everything already in the queue so restarts do not replay history to
// nobody.
func NewBroker(conn *sql.DB, cfg Config, obs Observer) (*Broker, error) {
	b := &Broker{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		obs:    obs,
		logger: log.WithComponent("events"),
		subs:   make(map[string]*Subscriber),
	}
	if err := conn.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events_queue`).Scan(&b.lastSeq); err != nil {
		return nil, db.WrapDBError("read event queue head", err)
	}
	return b, nil
}

// LastSeq is the highest seq the poller has observed.
func (b *Broker) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}

// SubscriberCount returns the number of live subscribers per transport.
func (b *Broker) SubscriberCount() (sse, ws int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.Transport == TransportSSE {
			sse++
		} else {
			ws++
		}
	}
	return sse, ws
}

// Subscribe registers a consumer. When lastSeq >= 0 the broker synchronously
// replays up to one batch of events with seq > lastSeq before live delivery,
// so a reconnecting client bridges the gap without missing or reordering.
func (b *Broker) Subscribe(ctx context.Context, transport Transport, clientID string, lastSeq int64) (*Subscriber, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sub := newSubscriber(clientID, transport, b.cfg.QueueSize)

	if lastSeq >= 0 {
		replay, err := b.fetch(ctx, lastSeq)
		if err != nil {
			return nil, err
		}
		for _, ev := range replay {
			sub.offer(ev)
		}
	}

	b.mu.Lock()
	old, replaced := b.subs[clientID]
	if replaced {
		// A reconnect with the same client id supersedes the old stream.
		old.close()
	}
	b.subs[clientID] = sub
	b.mu.Unlock()

	if replaced && b.obs != nil {
		b.obs.SubscriberDisconnected(old.Transport)
	}
	if b.obs != nil {
		b.obs.SubscriberConnected(transport)
	}
	b.logger.Debug().Str("client_id", clientID).Str("transport", string(transport)).
		Int64("last_seq", lastSeq).Msg("subscriber registered")
	return sub, nil
}

// Unsubscribe removes and closes the subscriber. Safe to call twice.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		sub.close()
	}
	b.mu.Unlock()
	if ok && b.obs != nil {
		b.obs.SubscriberDisconnected(sub.Transport)
	}
}

// Run is the poller loop. It exits when ctx is cancelled; subscriber queues
// are not drained on stop, the connections simply close.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	b.logger.Info().Dur("poll_interval", b.cfg.PollInterval).Msg("event broker started")

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			b.logger.Info().Msg("event broker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := b.poll(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("event poll failed")
			}
		}
	}
}

// poll fetches one batch past lastSeq and broadcasts it.
func (b *Broker) poll(ctx context.Context) error {
	b.mu.Lock()
	since := b.lastSeq
	b.mu.Unlock()

	batch, err := b.fetch(ctx, since)
	if err != nil || len(batch) == 0 {
		return err
	}
	head := batch[len(batch)-1].Seq

	if len(batch) > coalesceThreshold {
		before := len(batch)
		batch = coalesce(batch)
		b.logger.Debug().Int("before", before).Int("after", len(batch)).Msg("coalesced event batch")
	}

	b.mu.Lock()
	b.lastSeq = head
	now := time.Now().UTC()
	var evicted []*Subscriber
	for id, sub := range b.subs {
		for _, ev := range batch {
			if sub.offer(ev) {
				if b.obs != nil {
					b.obs.EventDelivered(sub.Transport, ev.Lag(now))
				}
				continue
			}
			if b.obs != nil {
				b.obs.EventDropped(sub.Transport)
			}
			delete(b.subs, id)
			sub.close()
			evicted = append(evicted, sub)
			break
		}
	}
	b.mu.Unlock()

	for _, sub := range evicted {
		b.logger.Warn().Str("client_id", sub.ID).Int64("dropped", sub.Dropped()).
			Msg("subscriber evicted after queue overflow")
		if b.obs != nil {
			b.obs.SubscriberDisconnected(sub.Transport)
		}
	}
	return nil
}

// fetch reads up to BatchLimit events with seq > since in seq order.
func (b *Broker) fetch(ctx context.Context, since int64) ([]Event, error) {
	rows, err := b.conn.QueryContext(ctx,
		`SELECT seq, ts_utc, kind, payload_json FROM events_queue WHERE seq > ? ORDER BY seq LIMIT ?`,
		since, b.cfg.BatchLimit)
	if err != nil {
		return nil, db.WrapDBError("fetch events", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.Seq, &ev.TsUTC, &ev.Kind, &payload); err != nil {
			return nil, db.WrapDBError("scan event", err)
		}
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapDBError("fetch events", err)
	}
	return out, nil
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
}
