// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// SeriesList lists TV series with an optional title substring filter.
func (s *Store) SeriesList(ctx context.Context, q string, req PageRequest) (Page[Series], error) {
	req = s.clampPage(req)
	var page Page[Series]

	clauses := ""
	args := []any{}
	if q = strings.TrimSpace(q); q != "" {
		clauses = " WHERE LOWER(s.title) LIKE ?"
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	query := `SELECT s.id, s.title, s.year, s.updated_utc, COUNT(e.id)
		FROM tv_series s LEFT JOIN tv_episodes e ON e.series_id = s.id` +
		clauses + ` GROUP BY s.id ORDER BY s.title, s.id LIMIT ? OFFSET ?`
	args = append(args, req.Limit+1, req.Offset)

	rows, err := s.catalog.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list series", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Series
	for rows.Next() {
		var sr Series
		var title, updated sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&sr.ID, &title, &year, &updated, &sr.Episodes); err != nil {
			return page, db.WrapDBError("scan series", err)
		}
		if title.Valid {
			sr.Title = &title.String
		}
		if year.Valid {
			y := int(year.Int64)
			sr.Year = &y
		}
		if updated.Valid {
			sr.UpdatedUTC = &updated.String
		}
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list series", err)
	}
	return paginate(results, req), nil
}

// Seasons summarises the seasons of one series.
func (s *Store) Seasons(ctx context.Context, seriesID int64) ([]Season, error) {
	if _, err := s.seriesByID(ctx, seriesID); err != nil {
		return nil, err
	}
	rows, err := s.catalog.QueryContext(ctx,
		`SELECT series_id, COALESCE(season, 0), COUNT(*) FROM tv_episodes
		 WHERE series_id = ? GROUP BY season ORDER BY season`, seriesID)
	if err != nil {
		return nil, db.WrapDBError("list seasons", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Season{}
	for rows.Next() {
		var season Season
		if err := rows.Scan(&season.SeriesID, &season.Season, &season.Episodes); err != nil {
			return nil, db.WrapDBError("scan season", err)
		}
		out = append(out, season)
	}
	return out, rows.Err()
}

const episodeColumns = "id, series_id, season, episode, drive_label, path, title, updated_utc"

func scanEpisode(scan func(dest ...any) error) (Episode, error) {
	var e Episode
	var season, episode sql.NullInt64
	var driveLabel, path, title, updated sql.NullString
	err := scan(&e.ID, &e.SeriesID, &season, &episode, &driveLabel, &path, &title, &updated)
	if err != nil {
		return e, err
	}
	if season.Valid {
		v := int(season.Int64)
		e.Season = &v
	}
	if episode.Valid {
		v := int(episode.Int64)
		e.Episode = &v
	}
	if driveLabel.Valid {
		e.DriveLabel = &driveLabel.String
	}
	if path.Valid {
		e.Path = &path.String
	}
	if title.Valid {
		e.Title = &title.String
	}
	if updated.Valid {
		e.UpdatedUTC = &updated.String
	}
	return e, nil
}

// Episodes lists episodes of one series, optionally restricted to a season.
func (s *Store) Episodes(ctx context.Context, seriesID int64, season *int, req PageRequest) (Page[Episode], error) {
	req = s.clampPage(req)
	var page Page[Episode]
	if _, err := s.seriesByID(ctx, seriesID); err != nil {
		return page, err
	}

	qb := newQuery("tv_episodes", episodeColumns).
		where("series_id", "=", seriesID).
		order("season, episode, id")
	if season != nil {
		qb.where("season", "=", *season)
	}

	query, args := qb.pageSQL(req)
	rows, err := s.catalog.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list episodes", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Episode
	for rows.Next() {
		e, err := scanEpisode(rows.Scan)
		if err != nil {
			return page, db.WrapDBError("scan episode", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list episodes", err)
	}
	return paginate(results, req), nil
}

func (s *Store) seriesByID(ctx context.Context, id int64) (*Series, error) {
	var sr Series
	var title, updated sql.NullString
	var year sql.NullInt64
	err := s.catalog.QueryRowContext(ctx,
		`SELECT s.id, s.title, s.year, s.updated_utc, COUNT(e.id)
		 FROM tv_series s LEFT JOIN tv_episodes e ON e.series_id = s.id
		 WHERE s.id = ? GROUP BY s.id`, id).
		Scan(&sr.ID, &title, &year, &updated, &sr.Episodes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "series %d not found", id)
	}
	if err != nil {
		return nil, db.WrapDBError("get series", err)
	}
	if title.Valid {
		sr.Title = &title.String
	}
	if year.Valid {
		y := int(year.Int64)
		sr.Year = &y
	}
	if updated.Valid {
		sr.UpdatedUTC = &updated.String
	}
	return &sr, nil
}

func (s *Store) episodeByID(ctx context.Context, id int64) (*Episode, error) {
	e, err := scanEpisode(s.catalog.QueryRowContext(ctx,
		"SELECT "+episodeColumns+" FROM tv_episodes WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "episode %d not found", id)
	}
	if err != nil {
		return nil, db.WrapDBError("get episode", err)
	}
	return &e, nil
}
