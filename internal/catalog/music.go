// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
)

// Music lists music tracks on one drive. When reviewOnly is set, only tracks
// flagged for manual review are returned.
func (s *Store) Music(ctx context.Context, label, q string, reviewOnly bool, req PageRequest) (Page[MusicRow], error) {
	req = s.clampPage(req)
	var page Page[MusicRow]

	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	qb := newQuery("music_minimal", "path, artist, album, title, duration_s, needs_review").order("path")
	if q = strings.TrimSpace(q); q != "" {
		needle := "%" + strings.ToLower(q) + "%"
		qb.whereRaw(`(LOWER(COALESCE(artist,'')) LIKE ? OR LOWER(COALESCE(album,'')) LIKE ?
			OR LOWER(COALESCE(title,'')) LIKE ? OR BASENAME(path) LIKE ?)`,
			needle, needle, needle, needle)
	}
	if reviewOnly {
		qb.where("needs_review", "=", 1)
	}

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list music", err)
	}
	defer func() { _ = rows.Close() }()

	var results []MusicRow
	for rows.Next() {
		var m MusicRow
		var artist, album, title sql.NullString
		var duration sql.NullInt64
		var review int
		if err := rows.Scan(&m.Path, &artist, &album, &title, &duration, &review); err != nil {
			return page, db.WrapDBError("scan music", err)
		}
		if artist.Valid {
			m.Artist = &artist.String
		}
		if album.Valid {
			m.Album = &album.String
		}
		if title.Valid {
			m.Title = &title.String
		}
		if duration.Valid {
			d := int(duration.Int64)
			m.DurationS = &d
		}
		m.NeedsReview = review != 0
		m.DriveLabel = label
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list music", err)
	}
	return paginate(results, req), nil
}

// TextLitePreviews lists lightweight text previews from one drive shard.
func (s *Store) TextLitePreviews(ctx context.Context, label, q string, req PageRequest) (Page[TextPreview], error) {
	return s.previewList(ctx, label, q, "textlite_preview", "path, preview, NULL", req)
}

// DocsPreviews lists document previews from one drive shard.
func (s *Store) DocsPreviews(ctx context.Context, label, q string, req PageRequest) (Page[TextPreview], error) {
	return s.previewList(ctx, label, q, "docs_preview", "path, preview, pages", req)
}

func (s *Store) previewList(ctx context.Context, label, q, table, columns string, req PageRequest) (Page[TextPreview], error) {
	req = s.clampPage(req)
	var page Page[TextPreview]

	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	qb := newQuery(table, columns).order("path")
	if q = strings.TrimSpace(q); q != "" {
		needle := "%" + strings.ToLower(q) + "%"
		qb.whereRaw("(BASENAME(path) LIKE ? OR LOWER(COALESCE(preview,'')) LIKE ?)", needle, needle)
	}

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list previews", err)
	}
	defer func() { _ = rows.Close() }()

	var results []TextPreview
	for rows.Next() {
		var p TextPreview
		var preview sql.NullString
		var pages sql.NullInt64
		if err := rows.Scan(&p.Path, &preview, &pages); err != nil {
			return page, db.WrapDBError("scan preview", err)
		}
		if preview.Valid {
			p.Preview = &preview.String
		}
		if pages.Valid {
			n := int(pages.Int64)
			p.Pages = &n
		}
		p.DriveLabel = label
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list previews", err)
	}
	return paginate(results, req), nil
}

// TextVerify lists verification rows, optionally restricted to one status.
func (s *Store) TextVerify(ctx context.Context, label, status string, req PageRequest) (Page[TextVerifyRow], error) {
	req = s.clampPage(req)
	var page Page[TextVerifyRow]

	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	qb := newQuery("textverify", "path, status, confidence").order("path")
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		qb.where("status", "=", status)
	}

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list textverify", err)
	}
	defer func() { _ = rows.Close() }()

	var results []TextVerifyRow
	for rows.Next() {
		var r TextVerifyRow
		var st sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&r.Path, &st, &conf); err != nil {
			return page, db.WrapDBError("scan textverify", err)
		}
		if st.Valid {
			r.Status = &st.String
		}
		if conf.Valid {
			r.Confidence = &conf.Float64
		}
		r.DriveLabel = label
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list textverify", err)
	}
	return paginate(results, req), nil
}
