// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

const inventoryColumns = "path, size_bytes, mtime_utc, ext, mime, category, drive_label"

func scanInventoryRow(scan func(dest ...any) error) (InventoryRow, error) {
	var row InventoryRow
	var ext, mime, category sql.NullString
	err := scan(&row.Path, &row.SizeBytes, &row.MtimeUTC, &ext, &mime, &category, &row.DriveLabel)
	if err != nil {
		return row, err
	}
	if ext.Valid {
		row.Ext = &ext.String
	}
	if mime.Valid {
		row.Mime = &mime.String
	}
	if category.Valid {
		row.Category = &category.String
	}
	return row, nil
}

// Inventory lists files on one drive with the normalised filter applied,
// ordered stably by path.
func (s *Store) Inventory(ctx context.Context, label string, filter InventoryFilter, req PageRequest) (Page[InventoryRow], error) {
	req = s.clampPage(req)
	var page Page[InventoryRow]

	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	qb := newQuery("inventory", inventoryColumns).order("path")
	filter.apply(qb)

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list inventory", err)
	}
	defer func() { _ = rows.Close() }()

	var results []InventoryRow
	for rows.Next() {
		row, err := scanInventoryRow(rows.Scan)
		if err != nil {
			return page, db.WrapDBError("scan inventory", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list inventory", err)
	}

	page = paginate(results, req)
	countQuery, countArgs := qb.selectSQL()
	if total, err := countEstimate(ctx, shard, countQuery, countArgs...); err == nil {
		page.TotalEstimate = total
	}
	return page, nil
}

// File fetches a single inventory row by exact path.
func (s *Store) File(ctx context.Context, label, path string) (*InventoryRow, error) {
	if path == "" {
		return nil, fault.New(fault.Validation, "path is required")
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}
	row, err := scanInventoryRow(shard.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory WHERE path = ?", path).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "path not found on drive %q", label)
	}
	if err != nil {
		return nil, db.WrapDBError("get file", err)
	}
	return &row, nil
}

// DriveStats returns per-category totals for one drive. It prefers the
// inventory_stats snapshot in the catalog database and falls back to a live
// aggregate over the shard when the snapshot is absent.
func (s *Store) DriveStats(ctx context.Context, label string) ([]CategoryStat, error) {
	if _, err := s.Drive(ctx, label); err != nil {
		return nil, err
	}

	rows, err := s.catalog.QueryContext(ctx,
		`SELECT drive_label, category, files, bytes FROM inventory_stats
		 WHERE drive_label = ? ORDER BY category`, label)
	if err != nil {
		return nil, db.WrapDBError("read inventory stats", err)
	}
	stats, err := scanCategoryStats(rows)
	if err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		return stats, nil
	}

	// No snapshot yet: aggregate live from the shard.
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}
	liveRows, err := shard.QueryContext(ctx,
		`SELECT drive_label, COALESCE(category, 'other'), COUNT(*), COALESCE(SUM(size_bytes), 0)
		 FROM inventory GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, db.WrapDBError("aggregate inventory", err)
	}
	return scanCategoryStats(liveRows)
}

func scanCategoryStats(rows *sql.Rows) ([]CategoryStat, error) {
	defer func() { _ = rows.Close() }()
	stats := []CategoryStat{}
	for rows.Next() {
		var st CategoryStat
		if err := rows.Scan(&st.DriveLabel, &st.Category, &st.Files, &st.Bytes); err != nil {
			return nil, db.WrapDBError("scan stats", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapDBError("scan stats", err)
	}
	return stats, nil
}
