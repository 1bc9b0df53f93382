// SPDX-License-Identifier: MIT

package db

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCatalog(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := OpenRW(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, EnsureCatalogSchema(conn))
	return conn
}

func TestTriggersAppendEventsWithDenseSeq(t *testing.T) {
	conn := openCatalog(t)

	_, err := conn.Exec(`INSERT INTO movies (id, drive_label, path, title, year, confidence, updated_utc)
		VALUES (42, 'A', '/x.mkv', 'X', 2020, 0.9, '2025-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE movies SET title = 'X2' WHERE id = 42`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO tv_series (id, title, year, updated_utc) VALUES (7, 'S', 2021, '2025-01-01T00:00:00Z')`)
	require.NoError(t, err)

	rows, err := conn.Query(`SELECT seq, kind, payload_json FROM events_queue ORDER BY seq`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var seqs []int64
	var kinds []string
	for rows.Next() {
		var seq int64
		var kind, payload string
		require.NoError(t, rows.Scan(&seq, &kind, &payload))
		seqs = append(seqs, seq)
		kinds = append(kinds, kind)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
		assert.NotEmpty(t, decoded["table"])
	}
	require.NoError(t, rows.Err())

	// One event per write, strictly increasing dense seq.
	require.Equal(t, []int64{1, 2, 3}, seqs)
	assert.Equal(t, []string{"catalog.movie.upsert", "catalog.movie.upsert", "catalog.tv.upsert"}, kinds)
}

func TestTriggersTolerateNulls(t *testing.T) {
	conn := openCatalog(t)

	_, err := conn.Exec(`INSERT INTO movies (id) VALUES (1)`)
	require.NoError(t, err)

	var payload string
	require.NoError(t, conn.QueryRow(`SELECT payload_json FROM events_queue`).Scan(&payload))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Nil(t, decoded["path"])
}

func TestVectorsPendingCoalesces(t *testing.T) {
	conn := openCatalog(t)

	_, err := conn.Exec(`INSERT INTO movies (id, title) VALUES (5, 'a')`)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE movies SET title = 'b' WHERE id = 5`)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE movies SET title = 'c' WHERE id = 5`)
	require.NoError(t, err)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM vectors_pending`).Scan(&n))
	assert.Equal(t, 1, n, "repeated mutations of one row coalesce by doc_id")

	var docID string
	require.NoError(t, conn.QueryRow(`SELECT doc_id FROM vectors_pending`).Scan(&docID))
	assert.Equal(t, "movie:5", docID)

	var events int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM events_queue`).Scan(&events))
	assert.Equal(t, 3, events, "events_queue keeps every write")
}

func TestEnsureShardSchema(t *testing.T) {
	conn, err := OpenRW(filepath.Join(t.TempDir(), "shard.db"))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, EnsureShardSchema(conn))

	_, err = conn.Exec(`INSERT INTO inventory (path, size_bytes, mtime_utc, category, drive_label)
		VALUES ('/a.mkv', 10, '2025-01-01T00:00:00Z', 'video', 'A')`)
	require.NoError(t, err)
}
