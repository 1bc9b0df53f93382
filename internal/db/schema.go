// SPDX-License-Identifier: MIT

package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// catalogSchema covers every table the service core reads or writes in the
// central catalog database. The write-side tables (movies, tv_series, ...)
// are populated by the offline scanners; they are created here so triggers
// can be attached and so tests can build realistic catalogs.
const catalogSchema = `
CREATE TABLE IF NOT EXISTS drives (
	label         TEXT PRIMARY KEY,
	type          TEXT,
	last_scan_utc TEXT,
	shard_path    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory_stats (
	drive_label TEXT NOT NULL,
	category    TEXT NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	updated_utc TEXT,
	PRIMARY KEY (drive_label, category)
);

CREATE TABLE IF NOT EXISTS events_queue (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	kind         TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_queue_kind_seq ON events_queue(kind, seq);

CREATE TABLE IF NOT EXISTS vectors_pending (
	doc_id TEXT PRIMARY KEY,
	kind   TEXT NOT NULL,
	ts_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS movies (
	id          INTEGER PRIMARY KEY,
	drive_label TEXT,
	path        TEXT,
	title       TEXT,
	year        INTEGER,
	confidence  REAL,
	quality     TEXT,
	audio_langs TEXT,
	sub_langs   TEXT,
	duration_s  INTEGER,
	thumb       BLOB,
	updated_utc TEXT
);
CREATE INDEX IF NOT EXISTS idx_movies_title ON movies(title);
CREATE INDEX IF NOT EXISTS idx_movies_drive ON movies(drive_label);

CREATE TABLE IF NOT EXISTS tv_series (
	id          INTEGER PRIMARY KEY,
	title       TEXT,
	year        INTEGER,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS tv_episodes (
	id          INTEGER PRIMARY KEY,
	series_id   INTEGER,
	season      INTEGER,
	episode     INTEGER,
	drive_label TEXT,
	path        TEXT,
	title       TEXT,
	updated_utc TEXT
);
CREATE INDEX IF NOT EXISTS idx_tv_episodes_series ON tv_episodes(series_id, season, episode);

CREATE TABLE IF NOT EXISTS video_quality (
	path        TEXT PRIMARY KEY,
	drive_label TEXT,
	score       REAL,
	width       INTEGER,
	height      INTEGER,
	vcodec      TEXT,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS textlite_preview (
	path        TEXT PRIMARY KEY,
	drive_label TEXT,
	preview     TEXT,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS diag_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload_json TEXT NOT NULL
);
`

// shardSchema is the per-drive database layout produced by the scanner. Kept
// here so tests and diagnostics can construct realistic shards.
const shardSchema = `
CREATE TABLE IF NOT EXISTS inventory (
	path        TEXT PRIMARY KEY,
	size_bytes  INTEGER NOT NULL,
	mtime_utc   TEXT NOT NULL,
	ext         TEXT,
	mime        TEXT,
	category    TEXT,
	drive_label TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inventory_category ON inventory(category);
CREATE INDEX IF NOT EXISTS idx_inventory_mtime ON inventory(mtime_utc);

CREATE TABLE IF NOT EXISTS features (
	path        TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('image','video')),
	dim         INTEGER NOT NULL,
	vec         BLOB NOT NULL,
	frames_used INTEGER NOT NULL DEFAULT 0,
	updated_utc TEXT NOT NULL,
	PRIMARY KEY (path, kind)
);

CREATE TABLE IF NOT EXISTS music_minimal (
	path        TEXT PRIMARY KEY,
	artist      TEXT,
	album       TEXT,
	title       TEXT,
	duration_s  INTEGER,
	needs_review INTEGER NOT NULL DEFAULT 0,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS textlite_preview (
	path        TEXT PRIMARY KEY,
	preview     TEXT,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS textverify (
	path        TEXT PRIMARY KEY,
	status      TEXT,
	confidence  REAL,
	updated_utc TEXT
);

CREATE TABLE IF NOT EXISTS docs_preview (
	path        TEXT PRIMARY KEY,
	preview     TEXT,
	pages       INTEGER,
	updated_utc TEXT
);
`

// watchedTable describes a write-side table whose mutations feed the event
// queue and the vectors_pending drain.
type watchedTable struct {
	name    string
	kind    string
	docExpr string   // SQL expression producing the stable doc_id
	columns []string // columns forwarded into the event payload
}

var watchedTables = []watchedTable{
	{
		name:    "movies",
		kind:    "catalog.movie.upsert",
		docExpr: "'movie:' || NEW.id",
		columns: []string{"id", "drive_label", "path", "title", "year", "confidence", "updated_utc"},
	},
	{
		name:    "tv_series",
		kind:    "catalog.tv.upsert",
		docExpr: "'series:' || NEW.id",
		columns: []string{"id", "title", "year", "updated_utc"},
	},
	{
		name:    "tv_episodes",
		kind:    "catalog.tv.upsert",
		docExpr: "'episode:' || NEW.id",
		columns: []string{"id", "series_id", "season", "episode", "path", "updated_utc"},
	},
	{
		name:    "video_quality",
		kind:    "catalog.quality.upsert",
		docExpr: "'quality:' || NEW.path",
		columns: []string{"path", "drive_label", "score", "updated_utc"},
	},
	{
		name:    "textlite_preview",
		kind:    "catalog.textlite.upsert",
		docExpr: "'textlite:' || NEW.path",
		columns: []string{"path", "drive_label", "updated_utc"},
	},
}

// triggerDDL renders the AFTER INSERT and AFTER UPDATE triggers for one
// watched table. json_object tolerates NULL column values, so triggers can
// never fail the originating write.
func triggerDDL(t watchedTable) string {
	pairs := make([]string, 0, len(t.columns)+1)
	pairs = append(pairs, "'table', '"+t.name+"'")
	for _, col := range t.columns {
		pairs = append(pairs, fmt.Sprintf("'%s', NEW.%s", col, col))
	}
	payload := "json_object(" + strings.Join(pairs, ", ") + ")"

	var b strings.Builder
	for _, action := range []string{"insert", "update"} {
		fmt.Fprintf(&b, `
CREATE TRIGGER IF NOT EXISTS trg_%s_%s AFTER %s ON %s
BEGIN
	INSERT INTO events_queue (kind, payload_json) VALUES ('%s', %s);
	INSERT INTO vectors_pending (doc_id, kind, ts_utc)
	VALUES (%s, '%s', strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ','now'))
	ON CONFLICT(doc_id) DO UPDATE SET ts_utc = excluded.ts_utc;
END;
`, t.name, action, strings.ToUpper(action), t.name, t.kind, payload, t.docExpr, t.kind)
	}
	return b.String()
}

// EnsureCatalogSchema creates the catalog tables and event triggers.
func EnsureCatalogSchema(conn *sql.DB) error {
	if _, err := conn.Exec(catalogSchema); err != nil {
		return WrapDBError("create catalog schema", err)
	}
	for _, t := range watchedTables {
		if _, err := conn.Exec(triggerDDL(t)); err != nil {
			return WrapDBError("create trigger for "+t.name, err)
		}
	}
	return nil
}

// EnsureShardSchema creates the per-drive tables.
func EnsureShardSchema(conn *sql.DB) error {
	if _, err := conn.Exec(shardSchema); err != nil {
		return WrapDBError("create shard schema", err)
	}
	return nil
}
