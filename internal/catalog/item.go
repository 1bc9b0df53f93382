// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// ParseItemID splits a kind-prefixed opaque id like "movie:42".
func ParseItemID(id string) (kind string, numeric int64, err error) {
	kind, rawID, ok := strings.Cut(id, ":")
	if !ok || kind == "" || rawID == "" {
		return "", 0, fault.Newf(fault.Validation, "malformed item id %q", id)
	}
	numeric, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", 0, fault.Newf(fault.Validation, "malformed item id %q", id)
	}
	return kind, numeric, nil
}

// ItemByID resolves an opaque id to its detail view.
func (s *Store) ItemByID(ctx context.Context, id string) (*Item, error) {
	kind, numeric, err := ParseItemID(id)
	if err != nil {
		return nil, err
	}
	item := &Item{ID: id, Kind: kind}
	switch kind {
	case "movie":
		m, err := s.Movie(ctx, numeric)
		if err != nil {
			return nil, err
		}
		item.Movie = m
	case "series":
		sr, err := s.seriesByID(ctx, numeric)
		if err != nil {
			return nil, err
		}
		item.Series = sr
	case "episode":
		e, err := s.episodeByID(ctx, numeric)
		if err != nil {
			return nil, err
		}
		item.Episode = e
	default:
		return nil, fault.Newf(fault.Validation, "unknown item kind %q", kind)
	}
	return item, nil
}

// Thumbnail fetches the thumbnail blob for an item token. Only movies carry
// thumbnails today.
func (s *Store) Thumbnail(ctx context.Context, token string) ([]byte, error) {
	kind, numeric, err := ParseItemID(token)
	if err != nil {
		return nil, err
	}
	if kind != "movie" {
		return nil, fault.Newf(fault.NotFound, "no thumbnail for %q", token)
	}
	var blob []byte
	err = s.catalog.QueryRowContext(ctx, `SELECT thumb FROM movies WHERE id = ?`, numeric).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "thumbnail token %q not found", token)
	}
	if err != nil {
		return nil, db.WrapDBError("get thumbnail", err)
	}
	if len(blob) == 0 {
		return nil, fault.Newf(fault.NotFound, "thumbnail token %q not found", token)
	}
	return blob, nil
}

// Summary aggregates catalog counts for the UI landing page.
type Summary struct {
	Movies   int64 `json:"movies"`
	Series   int64 `json:"series"`
	Episodes int64 `json:"episodes"`
	Drives   int64 `json:"drives"`
}

// CatalogSummary counts the major entity tables.
func (s *Store) CatalogSummary(ctx context.Context) (*Summary, error) {
	var sum Summary
	row := s.catalog.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM movies),
		(SELECT COUNT(*) FROM tv_series),
		(SELECT COUNT(*) FROM tv_episodes),
		(SELECT COUNT(*) FROM drives)`)
	if err := row.Scan(&sum.Movies, &sum.Series, &sum.Episodes, &sum.Drives); err != nil {
		return nil, db.WrapDBError("catalog summary", err)
	}
	return &sum, nil
}

// CatalogSearch is the lexical catalog search across movies, series and
// episodes by title or filename substring.
func (s *Store) CatalogSearch(ctx context.Context, q string, req PageRequest) (Page[Item], error) {
	req = s.clampPage(req)
	var page Page[Item]
	q = strings.TrimSpace(q)
	if q == "" {
		return page, fault.New(fault.Validation, "q is required")
	}
	needle := "%" + strings.ToLower(q) + "%"

	query := `
		SELECT 'movie:' || id AS item_id, 'movie' AS kind, COALESCE(title, BASENAME(path), '') AS label
		FROM movies WHERE LOWER(COALESCE(title,'')) LIKE ? OR BASENAME(COALESCE(path,'')) LIKE ?
		UNION ALL
		SELECT 'series:' || id, 'series', COALESCE(title, '') FROM tv_series WHERE LOWER(COALESCE(title,'')) LIKE ?
		UNION ALL
		SELECT 'episode:' || id, 'episode', COALESCE(title, BASENAME(path), '')
		FROM tv_episodes WHERE LOWER(COALESCE(title,'')) LIKE ? OR BASENAME(COALESCE(path,'')) LIKE ?
		ORDER BY label, item_id LIMIT ? OFFSET ?`
	rows, err := s.catalog.QueryContext(ctx, query,
		needle, needle, needle, needle, needle, req.Limit+1, req.Offset)
	if err != nil {
		return page, db.WrapDBError("catalog search", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Item
	for rows.Next() {
		var itemID, kind, label string
		if err := rows.Scan(&itemID, &kind, &label); err != nil {
			return page, db.WrapDBError("scan search row", err)
		}
		results = append(results, Item{ID: itemID, Kind: kind})
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("catalog search", err)
	}
	return paginate(results, req), nil
}
