// SPDX-License-Identifier: MIT

package events

import (
	"sync"
	"sync/atomic"
)

// Transport identifies how a subscriber receives events.
type Transport string

const (
	TransportSSE Transport = "sse"
	TransportWS  Transport = "ws"
)

// Subscriber is one live event stream consumer. Events arrive on a bounded
// FIFO; the broker never blocks on a slow consumer — it drops and schedules
// the subscriber for removal instead.
type Subscriber struct {
	ID        string
	Transport Transport

	ch        chan Event
	dropped   atomic.Int64
	closeOnce sync.Once
}

func newSubscriber(id string, transport Transport, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = 512
	}
	return &Subscriber{ID: id, Transport: transport, ch: make(chan Event, capacity)}
}

// Events is the delivery channel. It is closed when the subscriber is removed
// from the broker, which the transport handler treats as end-of-stream.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped reports how many events overflowed this subscriber's queue.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// offer enqueues without blocking. A full queue counts a drop and reports
// failure so the broker can evict the subscriber.
func (s *Subscriber) offer(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
