// SPDX-License-Identifier: MIT

package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"path wins", `{"path":"/a/b.mkv","id":7}`, "/a/b.mkv"},
		{"item_id before id", `{"item_id":"movie:7","id":7}`, "movie:7"},
		{"numeric id", `{"id":7}`, "7"},
		{"doc_id", `{"doc_id":"movie:7"}`, "movie:7"},
		{"series_id", `{"series_id":3}`, "3"},
		{"no identity falls back to seq", `{"other":"x"}`, "seq:99"},
		{"malformed payload falls back to seq", `not json`, "seq:99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Event{Seq: 99, Payload: json.RawMessage(tc.payload)}
			assert.Equal(t, tc.want, ev.Identifier())
		})
	}
}

func TestEventLag(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)

	ev := Event{TsUTC: "2024-06-01T12:00:00Z"}
	assert.Equal(t, time.Second, ev.Lag(now))

	// Future timestamps and garbage floor at zero.
	assert.Equal(t, time.Duration(0), Event{TsUTC: "2024-06-01T12:00:05Z"}.Lag(now))
	assert.Equal(t, time.Duration(0), Event{TsUTC: "bogus"}.Lag(now))
}

func TestCoalesceKeepsLatestPerKey(t *testing.T) {
	batch := []Event{
		{Seq: 1, Kind: "catalog.movie.upsert", Payload: json.RawMessage(`{"id":1}`)},
		{Seq: 2, Kind: "catalog.movie.upsert", Payload: json.RawMessage(`{"id":2}`)},
		{Seq: 3, Kind: "catalog.movie.upsert", Payload: json.RawMessage(`{"id":1}`)},
		{Seq: 4, Kind: "catalog.tv.upsert", Payload: json.RawMessage(`{"id":1}`)},
	}

	out := coalesce(batch)
	seqs := []int64{}
	for _, ev := range out {
		seqs = append(seqs, ev.Seq)
	}
	// seq 1 superseded by seq 3 (same kind+id); different kind survives.
	assert.Equal(t, []int64{2, 3, 4}, seqs)
}

func TestCoalescePreservesSeqOrder(t *testing.T) {
	batch := []Event{}
	for i := int64(1); i <= 60; i++ {
		batch = append(batch, Event{
			Seq:     i,
			Kind:    "catalog.movie.upsert",
			Payload: json.RawMessage(fmt.Sprintf(`{"id":%d}`, i%7)),
		})
	}
	out := coalesce(batch)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Seq, out[i].Seq)
	}
}
