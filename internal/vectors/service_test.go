// SPDX-License-Identifier: MIT

package vectors

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/scheduler"
)

// newFixture seeds a catalog (movies insert triggers fill vectors_pending)
// plus one shard with music, previews and inventory for drive USB_RED.
func newFixture(t *testing.T) config.Config {
	t.Helper()
	paths := config.Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())

	shard, err := db.OpenRW(paths.ShardPath("USB_RED"))
	require.NoError(t, err)
	require.NoError(t, db.EnsureShardSchema(shard))
	_, err = shard.Exec(`INSERT INTO inventory (path, size_bytes, mtime_utc, ext, mime, category, drive_label)
		VALUES ('/movies/alpha.mkv', 4000, '2024-01-01T00:00:00Z', 'mkv', 'video/x-matroska', 'video', 'USB_RED')`)
	require.NoError(t, err)
	_, err = shard.Exec(`INSERT INTO music_minimal (path, artist, album, title, duration_s)
		VALUES ('/music/song.mp3', 'Miles Davis', 'Kind of Blue', 'So What', 545)`)
	require.NoError(t, err)
	_, err = shard.Exec(`INSERT INTO docs_preview (path, preview, pages)
		VALUES ('/docs/report.pdf', 'quarterly revenue report with projections', 12)`)
	require.NoError(t, err)
	_, err = shard.Exec(`INSERT INTO textlite_preview (path, preview)
		VALUES ('/notes/todo.txt', 'grocery list and reminders')`)
	require.NoError(t, err)
	require.NoError(t, shard.Close())

	catalog, err := db.OpenRW(paths.CatalogDBPath())
	require.NoError(t, err)
	require.NoError(t, db.EnsureCatalogSchema(catalog))
	_, err = catalog.Exec(`INSERT INTO drives (label, type, shard_path) VALUES ('USB_RED', 'hdd', '')`)
	require.NoError(t, err)
	_, err = catalog.Exec(`INSERT INTO movies (id, drive_label, path, title, year, quality, audio_langs)
		VALUES (1, 'USB_RED', '/movies/alpha.mkv', 'Alpha', 2001, '1080p', 'en,de')`)
	require.NoError(t, err)
	_, err = catalog.Exec(`INSERT INTO tv_series (id, title, year) VALUES (1, 'Space Show', 1999)`)
	require.NoError(t, err)
	_, err = catalog.Exec(`INSERT INTO tv_episodes (id, series_id, season, episode, drive_label, path, title)
		VALUES (1, 1, 1, 1, 'USB_RED', '/tv/s01e01.mkv', 'Pilot')`)
	require.NoError(t, err)
	require.NoError(t, catalog.Close())

	return config.Config{Paths: paths}
}

func pendingCount(t *testing.T, paths config.Paths) int {
	t.Helper()
	conn, err := db.OpenRO(paths.CatalogDBPath())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM vectors_pending`).Scan(&n))
	return n
}

func TestCollectorGathersAllSources(t *testing.T) {
	cfg := newFixture(t)
	docs, counts, err := NewCollector(cfg.Paths).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, counts["movies"])
	assert.Equal(t, 1, counts["tv_episodes"])
	assert.Equal(t, 1, counts["music_minimal"])
	assert.Equal(t, 1, counts["docs_preview"])
	assert.Equal(t, 1, counts["textlite_preview"])
	assert.Equal(t, 1, counts["inventory"])
	assert.Len(t, docs, 6)

	byID := map[string]Document{}
	for _, d := range docs {
		byID[d.ID] = d
	}
	assert.Contains(t, byID["movie:1"].Text, "Alpha (2001)")
	assert.Contains(t, byID["episode:1"].Text, "Space Show S01E01 Pilot")
	assert.Contains(t, byID["music:USB_RED:/music/song.mp3"].Text, "Miles Davis")
	assert.Contains(t, byID["doc:USB_RED:/docs/report.pdf"].Text, "quarterly revenue")
	assert.Contains(t, byID["file:USB_RED:/movies/alpha.mkv"].Text, "movies alpha.mkv")
}

func TestServiceDrainDeletesOnFetch(t *testing.T) {
	cfg := newFixture(t)
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	// Triggers queued one pending row per write-side insert.
	before := pendingCount(t, cfg.Paths)
	require.Equal(t, 3, before, "movie, series, episode")

	n, err := svc.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, pendingCount(t, cfg.Paths))

	n, err = svc.drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServiceRebuildAndSearch(t *testing.T) {
	cfg := newFixture(t)
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	assert.False(t, svc.Ready())
	_, err = svc.Search(context.Background(), "anything", 5)
	assert.True(t, fault.IsKind(err, fault.Gated))

	require.NoError(t, svc.Rebuild(context.Background()))
	require.True(t, svc.Ready())

	hits, err := svc.Search(context.Background(), "quarterly revenue report", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc:USB_RED:/docs/report.pdf", hits[0].DocID)
	assert.Equal(t, "ann", hits[0].Mode)

	// Index and metadata land on disk atomically.
	assert.FileExists(t, filepath.Join(cfg.Paths.VectorsDir(), "catalog.index"))
	assert.FileExists(t, filepath.Join(cfg.Paths.VectorsDir(), "catalog_meta.json"))
}

func TestServiceLoadsPersistedIndex(t *testing.T) {
	cfg := newFixture(t)
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Rebuild(context.Background()))
	require.NoError(t, svc.Close())

	// A fresh service over the same root is ready without rebuilding.
	svc2, err := NewService(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc2.Close() }()
	assert.True(t, svc2.Ready())

	hits, err := svc2.Search(context.Background(), "So What Kind of Blue", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "music:USB_RED:/music/song.mp3", hits[0].DocID)
}

func TestServiceRunEnqueuesRebuildJob(t *testing.T) {
	cfg := newFixture(t)
	cfg.Orchestrator.Enable = true

	store, err := scheduler.OpenStore(cfg.Paths.OrchestratorDBPath())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	svc, err := NewService(cfg, store)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()
	svc.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		active, err := store.HasActive(context.Background(), JobKind)
		require.NoError(t, err)
		if active {
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	require.True(t, found, "drain never enqueued a rebuild job")

	jobs, err := store.Jobs(context.Background(), scheduler.StatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "dedup keeps a single queued rebuild")
	assert.Equal(t, string(scheduler.ResourceHeavyAIGPU), string(jobs[0].Resource))
}
