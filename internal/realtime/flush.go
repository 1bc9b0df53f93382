// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/log"
)

const metricsSchema = `
CREATE TABLE IF NOT EXISTS web_metrics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc      TEXT NOT NULL,
	series      TEXT NOT NULL,
	labels_json TEXT NOT NULL DEFAULT '{}',
	value       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_web_metrics_series_ts ON web_metrics(series, ts_utc);
`

// Flusher persists monitor snapshots to the metrics database on a fixed
// cadence, independent of the broker's polling.
type Flusher struct {
	monitor  *Monitor
	conn     *sql.DB
	interval time.Duration
	logger   zerolog.Logger
}

// NewFlusher opens (or creates) the metrics database at path.
func NewFlusher(monitor *Monitor, path string, interval time.Duration) (*Flusher, error) {
	conn, err := db.OpenRW(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(metricsSchema); err != nil {
		_ = conn.Close()
		return nil, db.WrapDBError("create metrics schema", err)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Flusher{
		monitor:  monitor,
		conn:     conn,
		interval: interval,
		logger:   log.WithComponent("realtime"),
	}, nil
}

func (f *Flusher) Close() error { return f.conn.Close() }

// Run flushes until ctx is cancelled, writing one final snapshot on the way
// out.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Info().Dur("interval", f.interval).Msg("metrics flush started")

	for {
		select {
		case <-ctx.Done():
			if err := f.Flush(); err != nil {
				f.logger.Warn().Err(err).Msg("final metrics flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := f.Flush(); err != nil {
				f.logger.Warn().Err(err).Msg("metrics flush failed")
			}
		}
	}
}

// Flush writes the current snapshot as one row per series.
func (f *Flusher) Flush() error {
	st := f.monitor.Snapshot()
	ts := db.FormatUTC(time.Now().UTC())

	rows := []struct {
		series string
		labels map[string]string
		value  float64
	}{
		{"events_pushed_total", nil, st.EventsPushedTotal},
		{"events_dropped_total", nil, st.EventsDroppedTotal},
		{"ai_requests_total", nil, st.AIRequestsTotal},
		{"ai_errors_total", nil, st.AIErrorsTotal},
		{"subscribers_connected", map[string]string{"transport": "sse"}, float64(st.SSEConnected)},
		{"subscribers_connected", map[string]string{"transport": "ws"}, float64(st.WSConnected)},
		{"event_lag_ms", map[string]string{"quantile": "0.5"}, st.LagP50Ms},
		{"event_lag_ms", map[string]string{"quantile": "0.95"}, st.LagP95Ms},
	}

	tx, err := f.conn.Begin()
	if err != nil {
		return db.WrapDBError("begin metrics flush", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO web_metrics (ts_utc, series, labels_json, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return db.WrapDBError("prepare metrics insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		labels := "{}"
		if row.labels != nil {
			raw, err := json.Marshal(row.labels)
			if err != nil {
				return err
			}
			labels = string(raw)
		}
		if _, err := stmt.Exec(ts, row.series, labels, row.value); err != nil {
			return db.WrapDBError("insert metric", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return db.WrapDBError("commit metrics flush", err)
	}
	return nil
}
