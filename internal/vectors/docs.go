// SPDX-License-Identifier: MIT

package vectors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/log"
)

// Document is one indexable unit of catalog text.
type Document struct {
	ID    string `json:"doc_id"`
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Per-source row and text budgets. The index is a retrieval aid, not a full
// text store, so long previews are truncated and huge tables are capped.
const (
	budgetMovies    = 5000
	budgetEpisodes  = 5000
	budgetMusic     = 5000
	budgetDocs      = 2000
	budgetTextlite  = 2000
	budgetInventory = 10000

	textBudgetPreview = 1200
	textBudgetShort   = 240
)

// Collector gathers documents from the central catalog and every reachable
// drive shard. Missing shards are skipped, never fatal.
type Collector struct {
	paths  config.Paths
	logger zerolog.Logger
}

func NewCollector(paths config.Paths) *Collector {
	return &Collector{paths: paths, logger: log.WithComponent("vectors")}
}

// Collect builds the full document set. Returns the documents plus a
// per-source row count for the index metadata.
func (c *Collector) Collect(ctx context.Context) ([]Document, map[string]int, error) {
	catalog, err := db.OpenRO(c.paths.CatalogDBPath())
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = catalog.Close() }()

	var docs []Document
	counts := map[string]int{}

	add := func(source string, batch []Document) {
		docs = append(docs, batch...)
		counts[source] += len(batch)
	}

	movies, err := c.collectMovies(ctx, catalog)
	if err != nil {
		return nil, nil, err
	}
	add("movies", movies)

	episodes, err := c.collectEpisodes(ctx, catalog)
	if err != nil {
		return nil, nil, err
	}
	add("tv_episodes", episodes)

	drives, err := c.drives(ctx, catalog)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range drives {
		label := d.label
		shardPath := d.shardPath
		if shardPath == "" {
			shardPath = c.paths.ShardPath(label)
		}
		shard, err := db.OpenRO(shardPath)
		if err != nil {
			c.logger.Debug().Str("drive", label).Err(err).Msg("shard unreachable, skipping")
			continue
		}
		if err := func() error {
			defer func() { _ = shard.Close() }()
			for _, src := range []struct {
				name    string
				collect func(context.Context, *sql.DB, string) ([]Document, error)
			}{
				{"docs_preview", c.collectDocsPreview},
				{"textlite_preview", c.collectTextlite},
				{"music_minimal", c.collectMusic},
				{"inventory", c.collectInventory},
			} {
				batch, err := src.collect(ctx, shard, label)
				if err != nil {
					return err
				}
				add(src.name, batch)
			}
			return nil
		}(); err != nil {
			return nil, nil, err
		}
	}
	return docs, counts, nil
}

type driveRef struct {
	label     string
	shardPath string
}

func (c *Collector) drives(ctx context.Context, catalog *sql.DB) ([]driveRef, error) {
	rows, err := catalog.QueryContext(ctx, `SELECT label, COALESCE(shard_path,'') FROM drives ORDER BY label`)
	if err != nil {
		return nil, db.WrapDBError("list drives", err)
	}
	defer func() { _ = rows.Close() }()
	var out []driveRef
	for rows.Next() {
		var d driveRef
		if err := rows.Scan(&d.label, &d.shardPath); err != nil {
			return nil, db.WrapDBError("scan drive", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *Collector) collectMovies(ctx context.Context, conn *sql.DB) ([]Document, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, COALESCE(title,''), COALESCE(year,0), COALESCE(quality,''), COALESCE(audio_langs,'')
		FROM movies ORDER BY id LIMIT ?`, budgetMovies)
	if err != nil {
		return nil, db.WrapDBError("collect movies", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var id, year int64
		var title, quality, langs string
		if err := rows.Scan(&id, &title, &year, &quality, &langs); err != nil {
			return nil, db.WrapDBError("scan movie", err)
		}
		text := title
		if year > 0 {
			text += fmt.Sprintf(" (%d)", year)
		}
		if quality != "" {
			text += " " + quality
		}
		if langs != "" {
			text += " audio " + langs
		}
		docs = append(docs, Document{
			ID:    fmt.Sprintf("movie:%d", id),
			Kind:  "movie",
			Title: title,
			Text:  clip(text, textBudgetShort),
		})
	}
	return docs, rows.Err()
}

func (c *Collector) collectEpisodes(ctx context.Context, conn *sql.DB) ([]Document, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT e.id, COALESCE(s.title,''), e.season, e.episode, COALESCE(e.title,'')
		FROM tv_episodes e LEFT JOIN tv_series s ON s.id = e.series_id
		ORDER BY e.id LIMIT ?`, budgetEpisodes)
	if err != nil {
		return nil, db.WrapDBError("collect episodes", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var id, season, episode int64
		var series, title string
		if err := rows.Scan(&id, &series, &season, &episode, &title); err != nil {
			return nil, db.WrapDBError("scan episode", err)
		}
		text := fmt.Sprintf("%s S%02dE%02d %s", series, season, episode, title)
		docs = append(docs, Document{
			ID:    fmt.Sprintf("episode:%d", id),
			Kind:  "episode",
			Title: strings.TrimSpace(series + " " + title),
			Text:  clip(strings.TrimSpace(text), textBudgetShort),
		})
	}
	return docs, rows.Err()
}

func (c *Collector) collectDocsPreview(ctx context.Context, shard *sql.DB, label string) ([]Document, error) {
	rows, err := shard.QueryContext(ctx, `
		SELECT path, COALESCE(preview,'') FROM docs_preview ORDER BY path LIMIT ?`, budgetDocs)
	if err != nil {
		return nil, db.WrapDBError("collect docs preview", err)
	}
	return scanPathDocs(rows, label, "doc", textBudgetPreview)
}

func (c *Collector) collectTextlite(ctx context.Context, shard *sql.DB, label string) ([]Document, error) {
	rows, err := shard.QueryContext(ctx, `
		SELECT path, COALESCE(preview,'') FROM textlite_preview ORDER BY path LIMIT ?`, budgetTextlite)
	if err != nil {
		return nil, db.WrapDBError("collect textlite preview", err)
	}
	return scanPathDocs(rows, label, "textlite", textBudgetPreview)
}

func (c *Collector) collectMusic(ctx context.Context, shard *sql.DB, label string) ([]Document, error) {
	rows, err := shard.QueryContext(ctx, `
		SELECT path, COALESCE(artist,''), COALESCE(album,''), COALESCE(title,'')
		FROM music_minimal ORDER BY path LIMIT ?`, budgetMusic)
	if err != nil {
		return nil, db.WrapDBError("collect music", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var path, artist, album, title string
		if err := rows.Scan(&path, &artist, &album, &title); err != nil {
			return nil, db.WrapDBError("scan music", err)
		}
		text := strings.TrimSpace(strings.Join([]string{artist, album, title}, " "))
		if text == "" {
			text = path
		}
		docs = append(docs, Document{
			ID:    "music:" + label + ":" + path,
			Kind:  "music",
			Title: title,
			Text:  clip(text, textBudgetShort),
		})
	}
	return docs, rows.Err()
}

func (c *Collector) collectInventory(ctx context.Context, shard *sql.DB, label string) ([]Document, error) {
	rows, err := shard.QueryContext(ctx, `
		SELECT path, COALESCE(category,'') FROM inventory ORDER BY path LIMIT ?`, budgetInventory)
	if err != nil {
		return nil, db.WrapDBError("collect inventory", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var path, category string
		if err := rows.Scan(&path, &category); err != nil {
			return nil, db.WrapDBError("scan inventory", err)
		}
		text := strings.ReplaceAll(strings.TrimLeft(path, "/"), "/", " ")
		if category != "" {
			text += " " + category
		}
		docs = append(docs, Document{
			ID:   "file:" + label + ":" + path,
			Kind: "file",
			Text: clip(text, textBudgetShort),
		})
	}
	return docs, rows.Err()
}

func scanPathDocs(rows *sql.Rows, label, kind string, budget int) ([]Document, error) {
	defer func() { _ = rows.Close() }()
	var docs []Document
	for rows.Next() {
		var path, preview string
		if err := rows.Scan(&path, &preview); err != nil {
			return nil, db.WrapDBError("scan "+kind, err)
		}
		text := preview
		if strings.TrimSpace(text) == "" {
			text = path
		}
		docs = append(docs, Document{
			ID:   kind + ":" + label + ":" + path,
			Kind: kind,
			Text: clip(text, budget),
		})
	}
	return docs, rows.Err()
}

// clip truncates on a rune boundary.
func clip(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
