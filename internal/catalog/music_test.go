// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/db"
)

// seedTextShard adds preview and verification rows next to the base fixture.
func seedTextShard(t *testing.T, store *Store) {
	t.Helper()
	conn, err := db.OpenRW(store.paths.ShardPath("USB_RED"))
	require.NoError(t, err)
	defer func() { require.NoError(t, conn.Close()) }()

	stmts := []string{
		`INSERT INTO music_minimal (path, artist, album, title, duration_s, needs_review)
			VALUES ('/music/clean.flac', 'Artist', 'Other', 'Clean', 180, 0)`,
		`INSERT INTO textlite_preview (path, preview) VALUES ('/docs/readme.txt', 'hello world')`,
		`INSERT INTO docs_preview (path, preview, pages) VALUES ('/docs/manual.pdf', 'user manual', 12)`,
		`INSERT INTO textverify (path, status, confidence) VALUES ('/docs/readme.txt', 'ok', 0.95)`,
		`INSERT INTO textverify (path, status, confidence) VALUES ('/docs/manual.pdf', 'suspect', 0.3)`,
	}
	for _, stmt := range stmts {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestMusicList(t *testing.T) {
	store := newTestStore(t)
	seedTextShard(t, store)
	ctx := context.Background()

	page, err := store.Music(ctx, "USB_RED", "", false, PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)

	page, err = store.Music(ctx, "USB_RED", "", true, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "/music/song.mp3", page.Results[0].Path)
	assert.True(t, page.Results[0].NeedsReview)

	// q matches artist, album, title and filename case-insensitively.
	page, err = store.Music(ctx, "USB_RED", "CLEAN", false, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Clean", *page.Results[0].Title)
}

func TestTextPreviews(t *testing.T) {
	store := newTestStore(t)
	seedTextShard(t, store)
	ctx := context.Background()

	lite, err := store.TextLitePreviews(ctx, "USB_RED", "hello", PageRequest{})
	require.NoError(t, err)
	require.Len(t, lite.Results, 1)
	assert.Equal(t, "/docs/readme.txt", lite.Results[0].Path)
	assert.Nil(t, lite.Results[0].Pages)

	docs, err := store.DocsPreviews(ctx, "USB_RED", "", PageRequest{})
	require.NoError(t, err)
	require.Len(t, docs.Results, 1)
	require.NotNil(t, docs.Results[0].Pages)
	assert.Equal(t, 12, *docs.Results[0].Pages)
}

func TestTextVerify(t *testing.T) {
	store := newTestStore(t)
	seedTextShard(t, store)
	ctx := context.Background()

	page, err := store.TextVerify(ctx, "USB_RED", "", PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)

	page, err = store.TextVerify(ctx, "USB_RED", "SUSPECT", PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "/docs/manual.pdf", page.Results[0].Path)
	require.NotNil(t, page.Results[0].Confidence)
	assert.InDelta(t, 0.3, *page.Results[0].Confidence, 1e-9)
}
