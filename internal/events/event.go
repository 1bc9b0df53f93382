// SPDX-License-Identifier: MIT

// Package events polls the catalog event queue and fans changes out to live
// SSE and WebSocket subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/videocatalog/videocatalog/internal/db"
)

// Event is one row of the append-only catalog event queue. Seq is dense and
// strictly increasing; it is the sole ordering basis across kinds.
type Event struct {
	Seq     int64           `json:"seq"`
	TsUTC   string          `json:"ts_utc"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// identifierKeys are probed in order when coalescing a large batch.
var identifierKeys = []string{"path", "item_id", "id", "doc_id", "series_id"}

// Identifier returns the stable coalescing identity of the event within its
// kind. Falls back to the seq, which makes the event unique (never coalesced).
func (e Event) Identifier() string {
	var payload map[string]any
	if err := json.Unmarshal(e.Payload, &payload); err == nil {
		for _, key := range identifierKeys {
			if v, ok := payload[key]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
	}
	return fmt.Sprintf("seq:%d", e.Seq)
}

// Lag is the delivery delay relative to the event timestamp, floored at zero.
// A malformed timestamp counts as zero lag rather than poisoning the window.
func (e Event) Lag(now time.Time) time.Duration {
	ts, err := db.ParseUTC(e.TsUTC)
	if err != nil {
		return 0
	}
	lag := now.Sub(ts)
	if lag < 0 {
		return 0
	}
	return lag
}

// coalesce keeps only the latest event per (kind, identifier), preserving seq
// order in the output.
func coalesce(batch []Event) []Event {
	type key struct{ kind, id string }
	latest := make(map[key]Event, len(batch))
	for _, ev := range batch {
		latest[key{ev.Kind, ev.Identifier()}] = ev
	}
	out := make([]Event, 0, len(latest))
	for _, ev := range batch {
		k := key{ev.Kind, ev.Identifier()}
		if kept, ok := latest[k]; ok && kept.Seq == ev.Seq {
			out = append(out, ev)
			delete(latest, k)
		}
	}
	return out
}
