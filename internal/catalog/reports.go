// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// pathCollator gives stable, locale-independent text collation for report
// output that is sorted in memory rather than by sqlite.
var pathCollator = collate.New(language.Und)

// Overview aggregates one drive: files, bytes, per-category breakdown.
type Overview struct {
	DriveLabel string         `json:"drive_label"`
	Files      int64          `json:"files"`
	Bytes      int64          `json:"bytes"`
	Categories []CategoryStat `json:"categories"`
}

/// ExtensionStat is one row of the top-extensions report. Ranks are dense:
// equal counts (or bytes) share a rank and the next distinct value gets the
// following rank.
type ExtensionStat struct {
	Ext         string `json:"ext"`
	Files       int64  `json:"files"`
	Bytes       int64  `json:"bytes"`
	RankByCount int    `json:"rank_by_count"`
	RankByBytes int    `json:"rank_by_bytes"`
}

// FolderStat aggregates inventory under a folder prefix at a fixed depth.
type FolderStat struct {
	Folder string `json:"folder"`
	Files  int64  `json:"files"`
	Bytes  int64  `json:"bytes"`
}

// ReportOverview returns drive totals and the per-category breakdown.
func (s *Store) ReportOverview(ctx context.Context, label string) (*Overview, error) {
	stats, err := s.DriveStats(ctx, label)
	if err != nil {
		return nil, err
	}
	out := &Overview{DriveLabel: label, Categories: stats}
	for _, st := range stats {
		out.Files += st.Files
		out.Bytes += st.Bytes
	}
	return out, nil
}

// ReportTopExtensions ranks extensions by file count and by total bytes.
func (s *Store) ReportTopExtensions(ctx context.Context, label string, limit int) ([]ExtensionStat, error) {
	if limit <= 0 {
		limit = 20
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}
	rows, err := shard.QueryContext(ctx,
		`SELECT COALESCE(ext, ''), COUNT(*), COALESCE(SUM(size_bytes), 0)
		 FROM inventory GROUP BY ext ORDER BY COUNT(*) DESC, ext LIMIT ?`, limit)
	if err != nil {
		return nil, db.WrapDBError("top extensions", err)
	}
	defer func() { _ = rows.Close() }()

	stats := []ExtensionStat{}
	for rows.Next() {
		var st ExtensionStat
		if err := rows.Scan(&st.Ext, &st.Files, &st.Bytes); err != nil {
			return nil, db.WrapDBError("scan extension", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapDBError("top extensions", err)
	}

	assignDenseRanks(stats, func(st ExtensionStat) int64 { return st.Files },
		func(st *ExtensionStat, rank int) { st.RankByCount = rank })
	assignDenseRanks(stats, func(st ExtensionStat) int64 { return st.Bytes },
		func(st *ExtensionStat, rank int) { st.RankByBytes = rank })
	return stats, nil
}

// assignDenseRanks walks the stats ordered by the key descending and assigns
// dense ranks in place.
func assignDenseRanks(stats []ExtensionStat, key func(ExtensionStat) int64, set func(*ExtensionStat, int)) {
	order := make([]int, len(stats))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return key(stats[order[a]]) > key(stats[order[b]])
	})
	rank := 0
	var prev int64
	for pos, idx := range order {
		v := key(stats[idx])
		if pos == 0 || v != prev {
			rank++
			prev = v
		}
		set(&stats[idx], rank)
	}
}

// ReportLargestFiles lists the biggest files on a drive.
func (s *Store) ReportLargestFiles(ctx context.Context, label string, limit int) ([]InventoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}
	rows, err := shard.QueryContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory ORDER BY size_bytes DESC, path LIMIT ?", limit)
	if err != nil {
		return nil, db.WrapDBError("largest files", err)
	}
	defer func() { _ = rows.Close() }()

	out := []InventoryRow{}
	for rows.Next() {
		row, err := scanInventoryRow(rows.Scan)
		if err != nil {
			return nil, db.WrapDBError("scan inventory", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReportHeaviestFolders aggregates bytes per folder prefix truncated to the
// given depth. Depth 1 groups by top-level directory.
func (s *Store) ReportHeaviestFolders(ctx context.Context, label string, depth, limit int) ([]FolderStat, error) {
	if depth < 1 || depth > 12 {
		return nil, fault.Newf(fault.Validation, "depth must be in [1, 12], got %d", depth)
	}
	if limit <= 0 {
		limit = 25
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}
	rows, err := shard.QueryContext(ctx, `SELECT path, size_bytes FROM inventory`)
	if err != nil {
		return nil, db.WrapDBError("heaviest folders", err)
	}
	defer func() { _ = rows.Close() }()

	agg := map[string]*FolderStat{}
	for rows.Next() {
		var path string
		var size int64
		if err := rows.Scan(&path, &size); err != nil {
			return nil, db.WrapDBError("scan inventory", err)
		}
		folder := folderPrefix(path, depth)
		st, ok := agg[folder]
		if !ok {
			st = &FolderStat{Folder: folder}
			agg[folder] = st
		}
		st.Files++
		st.Bytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapDBError("heaviest folders", err)
	}

	out := make([]FolderStat, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Bytes != out[b].Bytes {
			return out[a].Bytes > out[b].Bytes
		}
		return pathCollator.CompareString(out[a].Folder, out[b].Folder) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// folderPrefix truncates a normalised path to depth directory components.
func folderPrefix(path string, depth int) string {
	normalised := strings.ReplaceAll(path, `\`, "/")
	trimmed := strings.TrimPrefix(normalised, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) <= depth {
		if len(parts) > 1 {
			parts = parts[:len(parts)-1]
		} else {
			return "/"
		}
	} else {
		parts = parts[:depth]
	}
	return "/" + strings.Join(parts, "/")
}

// ReportRecentChanges lists files whose mtime falls within the last N days.
func (s *Store) ReportRecentChanges(ctx context.Context, label string, days int, req PageRequest) (Page[InventoryRow], error) {
	req = s.clampPage(req)
	var page Page[InventoryRow]
	if days <= 0 {
		days = 7
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	cutoff := db.FormatUTC(time.Now().UTC().AddDate(0, 0, -days))
	qb := newQuery("inventory", inventoryColumns).
		where("mtime_utc", ">=", cutoff).
		order("mtime_utc DESC, path")

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("recent changes", err)
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
		return page, db.WrapDBError("recent changes", err)
	}
	return paginate(results, req), nil
}
