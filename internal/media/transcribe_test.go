// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/scheduler"
)

func testTranscriber(t *testing.T) (*Transcriber, *scheduler.Store, *[]string) {
	t.Helper()

	conn, err := db.OpenRW(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.EnsureCatalogSchema(conn))

	store, err := scheduler.OpenStore(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tr := NewTranscriber(conn, "base")
	tr.tmpDir = t.TempDir()
	tr.lookPath = func(name string) (string, error) { return name, nil }

	var inputs []string
	tr.run = func(ctx context.Context, name string, args ...string) error {
		switch name {
		case "ffmpeg":
			// args: -y -i <input> ... <wav>
			inputs = append(inputs, args[2])
		case "whisper":
			wav := args[0]
			txt := strings.TrimSuffix(wav, ".wav") + ".txt"
			return os.WriteFile(txt, []byte("spoken words from "+filepath.Base(wav)+"\n"), 0o644)
		}
		return nil
	}
	return tr, store, &inputs
}

func enqueueBatch(t *testing.T, store *scheduler.Store, batch TranscribeBatch) *scheduler.Job {
	t.Helper()
	job, err := store.Enqueue(context.Background(), scheduler.EnqueueRequest{
		Kind:     TranscribeJobKind,
		Payload:  batch,
		Resource: scheduler.ResourceHeavyAIGPU,
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestTranscribeBatchStoresPreviewsAndEmitsEvents(t *testing.T) {
	tr, store, _ := testTranscriber(t)
	job := enqueueBatch(t, store, TranscribeBatch{
		DriveLabel: "ARCHIVE01",
		Paths:      []string{"/media/talks/a.mkv", "/media/talks/b.mkv"},
	})

	require.NoError(t, tr.Handler()(context.Background(), job, store))

	var previews int
	require.NoError(t, tr.conn.QueryRow(
		`SELECT COUNT(*) FROM textlite_preview WHERE drive_label = 'ARCHIVE01'`).Scan(&previews))
	assert.Equal(t, 2, previews)

	var events int
	require.NoError(t, tr.conn.QueryRow(
		`SELECT COUNT(*) FROM events_queue WHERE kind = 'catalog.textlite.upsert'`).Scan(&events))
	assert.Equal(t, 2, events)
}

func TestTranscribeResumesFromCheckpoint(t *testing.T) {
	tr, store, inputs := testTranscriber(t)
	job := enqueueBatch(t, store, TranscribeBatch{
		DriveLabel: "ARCHIVE01",
		Paths:      []string{"/media/talks/a.mkv", "/media/talks/b.mkv"},
	})
	require.NoError(t, store.SaveCheckpoint(context.Background(), job.ID, map[string]any{"done": 1}))

	require.NoError(t, tr.Handler()(context.Background(), job, store))

	require.Len(t, *inputs, 1)
	assert.Equal(t, "/media/talks/b.mkv", (*inputs)[0])
}

func TestTranscribeMissingToolIsUnavailable(t *testing.T) {
	tr, store, _ := testTranscriber(t)
	tr.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	job := enqueueBatch(t, store, TranscribeBatch{
		DriveLabel: "ARCHIVE01",
		Paths:      []string{"/media/talks/a.mkv"},
	})

	err := tr.Handler()(context.Background(), job, store)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Unavailable))
}

func TestTranscribeEmptyBatchIsRejected(t *testing.T) {
	tr, store, _ := testTranscriber(t)
	job := enqueueBatch(t, store, TranscribeBatch{DriveLabel: "ARCHIVE01", Paths: []string{"/x"}})
	job.Payload = []byte(`{"drive_label":"ARCHIVE01","paths":[]}`)

	err := tr.Handler()(context.Background(), job, store)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Validation))
}
