// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// newTestStore builds a store over a temp catalog plus one seeded shard for
// drive USB_RED. A second drive GHOST exists in the catalog but has no shard
// file on disk.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths := config.Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())

	shardConn, err := db.OpenRW(paths.ShardPath("USB_RED"))
	require.NoError(t, err)
	require.NoError(t, db.EnsureShardSchema(shardConn))
	seedShard(t, shardConn)
	require.NoError(t, shardConn.Close())

	catalogConn, err := db.OpenRW(paths.CatalogDBPath())
	require.NoError(t, err)
	require.NoError(t, db.EnsureCatalogSchema(catalogConn))
	seedCatalog(t, catalogConn)

	cfg := config.APIConfig{DefaultLimit: 100, MaxPageSize: 500, VectorInlineDim: 4}
	store := NewStoreWithConn(paths, cfg, catalogConn)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedShard(t *testing.T, conn *sql.DB) {
	t.Helper()
	rows := [][]any{
		{"/movies/alpha.mkv", int64(4000), "2024-01-01T00:00:00Z", "mkv", "video/x-matroska", "video", "USB_RED"},
		{"/movies/beta.mp4", int64(2000), "2024-06-01T00:00:00Z", "mp4", "video/mp4", "video", "USB_RED"},
		{"/music/song.mp3", int64(300), "2024-03-01T00:00:00Z", "mp3", "audio/mpeg", "audio", "USB_RED"},
		{"/docs/readme.txt", int64(10), "2023-01-01T00:00:00Z", "txt", "text/plain", "document", "USB_RED"},
	}
	for _, r := range rows {
		_, err := conn.Exec(`INSERT INTO inventory (path, size_bytes, mtime_utc, ext, mime, category, drive_label)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, r...)
		require.NoError(t, err)
	}

	_, err := conn.Exec(`INSERT INTO features (path, kind, dim, frames_used, updated_utc, vec) VALUES (?, ?, ?, ?, ?, ?)`,
		"/movies/alpha.mkv", "video", 3, 12, "2024-01-01T00:00:00Z", EncodeVector([]float32{0.5, -1.25, 2}))
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO features (path, kind, dim, frames_used, updated_utc, vec) VALUES (?, ?, ?, ?, ?, ?)`,
		"/img/pic.jpg", "image", 8, 1, "2024-01-02T00:00:00Z",
		EncodeVector([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO music_minimal (path, artist, album, title, duration_s, needs_review)
		VALUES ('/music/song.mp3', 'Artist', 'Album', 'Song', 200, 1)`)
	require.NoError(t, err)
}

func seedCatalog(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO drives (label, type, last_scan_utc, shard_path) VALUES
		('USB_RED', 'hdd', '2024-06-01T00:00:00Z', ''),
		('GHOST', NULL, NULL, '')`)
	require.NoError(t, err)

	movies := [][]any{
		{int64(1), "USB_RED", "/movies/alpha.mkv", "Alpha", 2001, 0.9, "1080p", "en,de", "en", 5400},
		{int64(2), "USB_RED", "/movies/beta.mp4", "Beta", 2015, 0.4, "720p", "en", nil, 6100},
		{int64(3), "USB_RED", "/movies/gamma.mkv", "Gamma", 2020, 0.7, "2160p", "fr", nil, 7000},
	}
	for _, m := range movies {
		_, err := conn.Exec(`INSERT INTO movies (id, drive_label, path, title, year, confidence, quality,
			audio_langs, sub_langs, duration_s, updated_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '2024-01-01T00:00:00Z')`, m...)
		require.NoError(t, err)
	}
	_, err = conn.Exec(`UPDATE movies SET thumb = ? WHERE id = 1`, []byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO tv_series (id, title, year, updated_utc)
		VALUES (1, 'Space Show', 2010, '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	episodes := [][]any{
		{int64(1), int64(1), 1, 1, "/tv/space/s01e01.mkv", "Pilot"},
		{int64(2), int64(1), 1, 2, "/tv/space/s01e02.mkv", "Contact"},
		{int64(3), int64(1), 2, 1, "/tv/space/s02e01.mkv", "Return"},
	}
	for _, e := range episodes {
		_, err := conn.Exec(`INSERT INTO tv_episodes (id, series_id, season, episode, drive_label, path, title, updated_utc)
			VALUES (?, ?, ?, ?, 'USB_RED', ?, ?, '2024-01-01T00:00:00Z')`, e...)
		require.NoError(t, err)
	}
}

func TestInventoryPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	page, err := store.Inventory(ctx, "USB_RED", InventoryFilter{}, PageRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)
	require.NotNil(t, page.TotalEstimate)
	assert.Equal(t, int64(4), *page.TotalEstimate)
	assert.Equal(t, "/docs/readme.txt", page.Results[0].Path)

	next, err := store.Inventory(ctx, "USB_RED", InventoryFilter{}, PageRequest{Limit: 2, Offset: *page.NextOffset})
	require.NoError(t, err)
	require.Len(t, next.Results, 2)
	assert.Nil(t, next.NextOffset)

	// No overlap between pages.
	for _, a := range page.Results {
		for _, b := range next.Results {
			assert.NotEqual(t, a.Path, b.Path)
		}
	}
}

func TestInventoryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	filter, err := NormalizeInventoryFilter("", "video", "", "", "2024-03-01T00:00:00")
	require.NoError(t, err)
	page, err := store.Inventory(ctx, "USB_RED", filter, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "/movies/beta.mp4", page.Results[0].Path)

	filter, err = NormalizeInventoryFilter("ALPHA", "", "", "", "")
	require.NoError(t, err)
	page, err = store.Inventory(ctx, "USB_RED", filter, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "/movies/alpha.mkv", page.Results[0].Path)
}

func TestFileLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.File(ctx, "USB_RED", "/music/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(300), row.SizeBytes)

	_, err = store.File(ctx, "USB_RED", "/nope")
	assert.True(t, fault.IsKind(err, fault.NotFound))

	_, err = store.File(ctx, "USB_RED", "")
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestDriveStatsLiveFallback(t *testing.T) {
	store := newTestStore(t)

	// No inventory_stats snapshot seeded, so stats aggregate live from the
	// shard.
	stats, err := store.DriveStats(context.Background(), "USB_RED")
	require.NoError(t, err)
	require.Len(t, stats, 3)

	byCategory := map[string]CategoryStat{}
	for _, st := range stats {
		byCategory[st.Category] = st
	}
	assert.Equal(t, int64(2), byCategory["video"].Files)
	assert.Equal(t, int64(6000), byCategory["video"].Bytes)
	assert.Equal(t, int64(1), byCategory["audio"].Files)
}

func TestUnknownDriveVsShardMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Inventory(ctx, "NOPE", InventoryFilter{}, PageRequest{})
	require.True(t, fault.IsKind(err, fault.NotFound))
	assert.Contains(t, fault.MessageOf(err), "unknown drive")

	_, err = store.Inventory(ctx, "GHOST", InventoryFilter{}, PageRequest{})
	require.True(t, fault.IsKind(err, fault.NotFound))
	assert.Contains(t, fault.MessageOf(err), "shard database missing")
}

func TestDrivesDerivedShardPath(t *testing.T) {
	store := newTestStore(t)

	drives, err := store.Drives(context.Background())
	require.NoError(t, err)
	require.Len(t, drives, 2)
	// Ordered by label; empty stored shard_path is derived from the layout.
	assert.Equal(t, "GHOST", drives[0].Label)
	assert.Equal(t, store.paths.ShardPath("GHOST"), drives[0].ShardPath)
	assert.Equal(t, "USB_RED", drives[1].Label)
}
