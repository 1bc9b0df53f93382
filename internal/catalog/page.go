// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
)

// totalEstimateGuard caps COUNT(*) work for total_estimate. Counts beyond the
// guard report null, meaning "many".
const totalEstimateGuard = 10000

// PageRequest carries raw pagination input before clamping.
type PageRequest struct {
	Limit  int
	Offset int
}

// Clamp bounds the request to [1, max] / [0, inf) with def as the zero-limit
// default.
func (r PageRequest) Clamp(def, max int) PageRequest {
	out := r
	if out.Limit <= 0 {
		out.Limit = def
	}
	if out.Limit < 1 {
		out.Limit = 1
	}
	if out.Limit > max {
		out.Limit = max
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// Page is the common listing envelope. NextOffset is nil on the final page;
// TotalEstimate is nil when the count exceeds the guard.
type Page[T any] struct {
	Results       []T    `json:"results"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
	NextOffset    *int   `json:"next_offset"`
	TotalEstimate *int64 `json:"total_estimate"`
}

// paginate builds the envelope from a limit+1 fetch: when the extra row is
// present the page is truncated and next_offset set.
func paginate[T any](rows []T, req PageRequest) Page[T] {
	page := Page[T]{Limit: req.Limit, Offset: req.Offset}
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
		next := req.Offset + req.Limit
		page.NextOffset = &next
	}
	if rows == nil {
		rows = []T{}
	}
	page.Results = rows
	return page
}

// countEstimate runs a guarded COUNT over the given query. Returns nil when
// the count hits the guard.
func countEstimate(ctx context.Context, conn *sql.DB, query string, args ...any) (*int64, error) {
	guarded := "SELECT COUNT(*) FROM (" + query + " LIMIT ?)"
	args = append(append([]any{}, args...), totalEstimateGuard+1)
	var n int64
	if err := conn.QueryRowContext(ctx, guarded, args...).Scan(&n); err != nil {
		return nil, err
	}
	if n > totalEstimateGuard {
		return nil, nil
	}
	return &n, nil
}
