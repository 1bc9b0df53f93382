// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// Features lists embedding metadata for one drive, optionally filtered by
// kind.
func (s *Store) Features(ctx context.Context, label, kind string, req PageRequest) (Page[FeatureMeta], error) {
	req = s.clampPage(req)
	var page Page[FeatureMeta]

	if kind != "" && kind != "image" && kind != "video" {
		return page, fault.Newf(fault.Validation, "unknown feature kind %q", kind)
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return page, err
	}

	qb := newQuery("features", "path, kind, dim, frames_used, updated_utc").order("path, kind")
	if kind != "" {
		qb.where("kind", "=", kind)
	}

	query, args := qb.pageSQL(req)
	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return page, db.WrapDBError("list features", err)
	}
	defer func() { _ = rows.Close() }()

	var results []FeatureMeta
	for rows.Next() {
		var m FeatureMeta
		if err := rows.Scan(&m.Path, &m.Kind, &m.Dim, &m.FramesUsed, &m.UpdatedUTC); err != nil {
			return page, db.WrapDBError("scan feature", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return page, db.WrapDBError("list features", err)
	}
	return paginate(results, req), nil
}

// FeatureVector fetches one embedding. Vectors above the configured inline
// dimension require raw=true; without it the call fails validation so a JSON
// response never accidentally carries megabytes of floats.
func (s *Store) FeatureVector(ctx context.Context, label, path, kind string, raw bool) (*FeatureVector, error) {
	if path == "" {
		return nil, fault.New(fault.Validation, "path is required")
	}
	if kind != "image" && kind != "video" {
		return nil, fault.Newf(fault.Validation, "unknown feature kind %q", kind)
	}
	shard, err := s.shard(ctx, label)
	if err != nil {
		return nil, err
	}

	var fv FeatureVector
	var blob []byte
	err = shard.QueryRowContext(ctx,
		`SELECT path, kind, dim, frames_used, updated_utc, vec FROM features WHERE path = ? AND kind = ?`,
		path, kind).Scan(&fv.Path, &fv.Kind, &fv.Dim, &fv.FramesUsed, &fv.UpdatedUTC, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "no %s vector for path on drive %q", kind, label)
	}
	if err != nil {
		return nil, db.WrapDBError("get feature vector", err)
	}

	inlineDim := s.cfg.VectorInlineDim
	if inlineDim <= 0 {
		inlineDim = 2048
	}
	if fv.Dim > inlineDim && !raw {
		return nil, fault.Newf(fault.Validation,
			"vector dim %d exceeds inline limit %d; pass raw=true to fetch it", fv.Dim, inlineDim)
	}

	fv.Vec = DecodeVector(blob, fv.Dim)
	return &fv, nil
}

// DecodeVector decodes a packed little-endian float32 blob. The slice is
// bounded defensively by dim*4 bytes; a short blob yields the floats that
// fit.
func DecodeVector(blob []byte, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	want := dim * 4
	if len(blob) > want {
		blob = blob[:want]
	}
	n := len(blob) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeVector packs floats little-endian, the inverse of DecodeVector.
func EncodeVector(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
