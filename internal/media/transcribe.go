// SPDX-License-Identifier: MIT

// Package media runs external tool pipelines over catalogued files. The one
// pipeline today is speech-to-text: ffmpeg extracts mono 16 kHz audio and a
// whisper CLI turns it into a transcript stored as a textlite preview.
package media

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
	"github.com/videocatalog/videocatalog/internal/scheduler"
)

// TranscribeJobKind is the scheduler kind handled by the Transcriber.
const TranscribeJobKind = "transcribe_batch"

const (
	previewLimit    = 4000
	audioSampleRate = "16000"
)

// TranscribeBatch is the job payload: absolute file paths on one drive.
type TranscribeBatch struct {
	DriveLabel string   `json:"drive_label"`
	Paths      []string `json:"paths"`
}

// Transcriber executes transcription batches leased from the job store.
// Transcripts land in the central textlite_preview table, so the catalog
// triggers fan each finished file out to event subscribers.
type Transcriber struct {
	conn   *sql.DB
	model  string
	logger zerolog.Logger

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
	tmpDir   string
}

// NewTranscriber needs a read-write catalog connection and the whisper model
// name ("base", "small", ...). An empty model falls back to "base".
func NewTranscriber(conn *sql.DB, model string) *Transcriber {
	if strings.TrimSpace(model) == "" {
		model = "base"
	}
	return &Transcriber{
		conn:     conn,
		model:    model,
		logger:   log.WithComponent("media"),
		lookPath: exec.LookPath,
		run:      runCommand,
		tmpDir:   os.TempDir(),
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		if idx := strings.IndexByte(detail, '\n'); idx > 0 {
			detail = detail[:idx]
		}
		return fault.Newf(fault.Internal, "%s: %s", filepath.Base(name), detail)
	}
	return nil
}

// Handler adapts the transcriber to the scheduler, checkpointing after every
// finished file so a retried job resumes where it stopped.
func (t *Transcriber) Handler() scheduler.Handler {
	return func(ctx context.Context, job *scheduler.Job, store *scheduler.Store) error {
		var batch TranscribeBatch
		if err := json.Unmarshal(job.Payload, &batch); err != nil {
			return fault.Wrap(fault.Validation, "decode transcribe batch", err)
		}
		if len(batch.Paths) == 0 {
			return fault.New(fault.Validation, "transcribe batch has no paths")
		}

		start := 0
		if raw, err := store.Checkpoint(ctx, job.ID); err == nil && len(raw) > 0 {
			var ckpt struct {
				Done int `json:"done"`
			}
			if json.Unmarshal(raw, &ckpt) == nil && ckpt.Done > 0 && ckpt.Done <= len(batch.Paths) {
				start = ckpt.Done
			}
		}

		failed := 0
		for i := start; i < len(batch.Paths); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := batch.Paths[i]
			text, err := t.transcribe(ctx, path)
			if err != nil {
				if fault.IsKind(err, fault.Unavailable) {
					return err
				}
				failed++
				t.logger.Warn().Err(err).Str("path", path).Msg("transcription failed, skipping file")
			} else if err := t.storePreview(ctx, batch.DriveLabel, path, text); err != nil {
				return err
			}
			_ = store.SaveCheckpoint(ctx, job.ID, map[string]any{
				"done":   i + 1,
				"total":  len(batch.Paths),
				"failed": failed,
			})
		}
		if failed == len(batch.Paths)-start {
			return fault.New(fault.Internal, "transcription failed for every file in the batch")
		}
		t.logger.Info().Int("files", len(batch.Paths)-start).Int("failed", failed).
			Str("drive", batch.DriveLabel).Msg("transcription batch finished")
		return nil
	}
}

// transcribe runs the two-stage pipeline for one file and returns the
// transcript, truncated to preview length.
func (t *Transcriber) transcribe(ctx context.Context, path string) (string, error) {
	ffmpeg, err := t.lookPath("ffmpeg")
	if err != nil {
		return "", fault.New(fault.Unavailable, "ffmpeg not installed")
	}
	whisper, err := t.lookPath("whisper")
	if err != nil {
		return "", fault.New(fault.Unavailable, "whisper not installed")
	}

	wav := filepath.Join(t.tmpDir, fmt.Sprintf("transcribe-%d.wav", time.Now().UnixNano()))
	defer func() { _ = os.Remove(wav) }()
	if err := t.run(ctx, ffmpeg, "-y", "-i", path, "-vn", "-ac", "1", "-ar", audioSampleRate, wav); err != nil {
		return "", err
	}

	if err := t.run(ctx, whisper, wav, "--model", t.model, "--output_format", "txt", "--output_dir", t.tmpDir); err != nil {
		return "", err
	}
	txt := strings.TrimSuffix(wav, ".wav") + ".txt"
	defer func() { _ = os.Remove(txt) }()
	raw, err := os.ReadFile(txt)
	if err != nil {
		return "", fault.Wrap(fault.Internal, "read transcript", err)
	}

	text := strings.TrimSpace(string(raw))
	if len(text) > previewLimit {
		text = text[:previewLimit]
	}
	return text, nil
}

func (t *Transcriber) storePreview(ctx context.Context, driveLabel, path, text string) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO textlite_preview (path, drive_label, preview, updated_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			drive_label = excluded.drive_label,
			preview     = excluded.preview,
			updated_utc = excluded.updated_utc`,
		path, driveLabel, text, db.NowUTC())
	if err != nil {
		return db.WrapDBError("store transcript preview", err)
	}
	return nil
}
