// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// MovieFilter is the normalised movie listing filter.
type MovieFilter struct {
	Q             string
	YearMin       int
	YearMax       int
	ConfidenceMin float64
	Quality       string
	AudioLangs    []string
	SubLangs      []string
	DriveLabel    string
	LowConfidence bool // confidence below 0.5, mutually exclusive with ConfidenceMin
}

// NormalizeMovieFilter validates ranges and lowercases language sets.
func NormalizeMovieFilter(f MovieFilter) (MovieFilter, error) {
	if f.YearMin < 0 || f.YearMax < 0 {
		return f, fault.New(fault.Validation, "year bounds must be non-negative")
	}
	if f.YearMin > 0 && f.YearMax > 0 && f.YearMin > f.YearMax {
		return f, fault.New(fault.Validation, "year_min must not exceed year_max")
	}
	if f.ConfidenceMin < 0 || f.ConfidenceMin > 1 {
		return f, fault.New(fault.Validation, "confidence_min must be in [0, 1]")
	}
	f.Quality = strings.ToLower(strings.TrimSpace(f.Quality))
	f.AudioLangs = lowerSet(f.AudioLangs)
	f.SubLangs = lowerSet(f.SubLangs)
	return f, nil
}

func lowerSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

const movieColumns = "id, drive_label, path, title, year, confidence, quality, audio_langs, sub_langs, duration_s, updated_utc"

func scanMovie(scan func(dest ...any) error) (Movie, error) {
	var m Movie
	var driveLabel, path, title, quality, audio, subs, updated sql.NullString
	var year, duration sql.NullInt64
	var confidence sql.NullFloat64
	err := scan(&m.ID, &driveLabel, &path, &title, &year, &confidence, &quality, &audio, &subs, &duration, &updated)
	if err != nil {
		return m, err
	}
	if driveLabel.Valid {
		m.DriveLabel = &driveLabel.String
	}
	if path.Valid {
		m.Path = &path.String
	}
	if title.Valid {
		m.Title = &title.String
	}
	if year.Valid {
		y := int(year.Int64)
		m.Year = &y
	}
	if confidence.Valid {
		m.Confidence = &confidence.Float64
	}
	if quality.Valid {
		m.Quality = &quality.String
	}
	if audio.Valid {
		m.AudioLangs = &audio.String
	}
	if subs.Valid {
		m.SubLangs = &subs.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		m.DurationS = &d
	}
	if updated.Valid {
		m.UpdatedUTC = &updated.String
	}
	return m, nil
}

func (f MovieFilter) apply(qb *queryBuilder) {
	if f.Q != "" {
		needle := "%" + strings.ToLower(f.Q) + "%"
		qb.whereRaw("(LOWER(title) LIKE ? OR BASENAME(path) LIKE ?)", needle, needle)
	}
	if f.YearMin > 0 {
		qb.where("year", ">=", f.YearMin)
	}
	if f.YearMax > 0 {
		qb.where("year", "<=", f.YearMax)
	}
	if f.LowConfidence {
		qb.where("confidence", "<", 0.5)
	} else if f.ConfidenceMin > 0 {
		qb.where("confidence", ">=", f.ConfidenceMin)
	}
	if f.Quality != "" {
		qb.where("quality", "=", f.Quality)
	}
	if f.DriveLabel != "" {
		qb.where("drive_label", "=", f.DriveLabel)
	}
	// Language sets are stored as comma-joined codes; membership uses LIKE
	// over the normalised column.
	for _, lang := range f.AudioLangs {
		qb.whereRaw("(',' || LOWER(COALESCE(audio_langs,'')) || ',') LIKE ?", "%,"+lang+",%")
	}
	for _, lang := range f.SubLangs {
		qb.whereRaw("(',' || LOWER(COALESCE(sub_langs,'')) || ',') LIKE ?", "%,"+lang+",%")
	}
}

// Movies lists catalogued movies with the combined filter set.
func (s *Store) Movies(ctx context.Context, filter MovieFilter, req PageRequest) (Page[Movie], error) {
	req = s.clampPage(req)
	var page Page[Movie]

	qb := newQuery("movies", movieColumns).order("title, id")
	filter.apply(qb)

	query, args := qb.pageSQL(req)
	rows, err := s.catalog.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list movies", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Movie
	for rows.Next() {
		m, err := scanMovie(rows.Scan)
		if err != nil {
			return page, db.WrapDBError("scan movie", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list movies", err)
	}

	page = paginate(results, req)
	countQuery, countArgs := qb.selectSQL()
	if total, err := countEstimate(ctx, s.catalog, countQuery, countArgs...); err == nil {
		page.TotalEstimate = total
	}
	return page, nil
}

// Movie fetches one movie by id.
func (s *Store) Movie(ctx context.Context, id int64) (*Movie, error) {
	m, err := scanMovie(s.catalog.QueryRowContext(ctx,
		"SELECT "+movieColumns+" FROM movies WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.NotFound, "movie %d not found", id)
	}
	if err != nil {
		return nil, db.WrapDBError("get movie", err)
	}
	return &m, nil
}
