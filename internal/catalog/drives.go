// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/videocatalog/videocatalog/internal/db"
)

// Drives lists every catalogued drive with its derived shard path.
func (s *Store) Drives(ctx context.Context) ([]Drive, error) {
	rows, err := s.catalog.QueryContext(ctx,
		`SELECT label, type, last_scan_utc, shard_path FROM drives ORDER BY label`)
	if err != nil {
		return nil, db.WrapDBError("list drives", err)
	}
	defer func() { _ = rows.Close() }()

	drives := []Drive{}
	for rows.Next() {
		var d Drive
		var typ, lastScan sql.NullString
		if err := rows.Scan(&d.Label, &typ, &lastScan, &d.ShardPath); err != nil {
			return nil, db.WrapDBError("scan drive", err)
		}
		if typ.Valid {
			d.Type = &typ.String
		}
		if lastScan.Valid {
			d.LastScanUTC = &lastScan.String
		}
		if d.ShardPath == "" {
			d.ShardPath = s.paths.ShardPath(d.Label)
		}
		drives = append(drives, d)
	}
	return drives, rows.Err()
}

// Drive fetches a single drive by label.
func (s *Store) Drive(ctx context.Context, label string) (*Drive, error) {
	var d Drive
	var typ, lastScan sql.NullString
	err := s.catalog.QueryRowContext(ctx,
		`SELECT label, type, last_scan_utc, shard_path FROM drives WHERE label = ?`, label).
		Scan(&d.Label, &typ, &lastScan, &d.ShardPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrUnknownDrive(label)
	}
	if err != nil {
		return nil, db.WrapDBError("get drive", err)
	}
	if typ.Valid {
		d.Type = &typ.String
	}
	if lastScan.Valid {
		d.LastScanUTC = &lastScan.String
	}
	if d.ShardPath == "" {
		d.ShardPath = s.paths.ShardPath(d.Label)
	}
	return &d, nil
}
