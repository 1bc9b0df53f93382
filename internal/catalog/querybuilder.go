// SPDX-License-Identifier: MIT

package catalog

import (
	"fmt"
	"strings"
)

// allowedColumns whitelists every column a dynamic filter may reference,
// keyed by table. User input never reaches SQL text; it travels exclusively
// through positional parameters, and column names must pass this table.
var allowedColumns = map[string]map[string]bool{
	"inventory": {
		"path": true, "size_bytes": true, "mtime_utc": true, "ext": true,
		"mime": true, "category": true, "drive_label": true,
	},
	"features": {
		"path": true, "kind": true, "dim": true, "frames_used": true, "updated_utc": true,
	},
	"movies": {
		"id": true, "drive_label": true, "path": true, "title": true, "year": true,
		"confidence": true, "quality": true, "audio_langs": true, "sub_langs": true,
		"duration_s": true, "updated_utc": true,
	},
	"tv_series":   {"id": true, "title": true, "year": true, "updated_utc": true},
	"tv_episodes": {"id": true, "series_id": true, "season": true, "episode": true, "drive_label": true, "path": true, "title": true, "updated_utc": true},
	"music_minimal": {
		"path": true, "artist": true, "album": true, "title": true,
		"duration_s": true, "needs_review": true, "updated_utc": true,
	},
	"textlite_preview": {"path": true, "preview": true, "updated_utc": true},
	"textverify":       {"path": true, "status": true, "confidence": true, "updated_utc": true},
	"docs_preview":     {"path": true, "preview": true, "pages": true, "updated_utc": true},
}

var allowedOps = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "LIKE": true, "IN": true,
}

// queryBuilder assembles a SELECT with whitelisted filter columns. It panics
// on a non-whitelisted column or operator: that is always a programming
// error, never reachable from user input.
type queryBuilder struct {
	table   string
	columns string
	clauses []string
	args    []any
	orderBy string
}

func newQuery(table, columns string) *queryBuilder {
	if _, ok := allowedColumns[table]; !ok {
		panic(fmt.Sprintf("querybuilder: unknown table %q", table))
	}
	return &queryBuilder{table: table, columns: columns}
}

// where adds `column op ?`. The column must be whitelisted for the table.
func (qb *queryBuilder) where(column, op string, value any) *queryBuilder {
	if !allowedColumns[qb.table][column] {
		panic(fmt.Sprintf("querybuilder: column %q not allowed on %q", column, qb.table))
	}
	if !allowedOps[strings.ToUpper(op)] {
		panic(fmt.Sprintf("querybuilder: operator %q not allowed", op))
	}
	qb.clauses = append(qb.clauses, fmt.Sprintf("%s %s ?", column, strings.ToUpper(op)))
	qb.args = append(qb.args, value)
	return qb
}

// whereIn adds `column IN (?, ...)`.
func (qb *queryBuilder) whereIn(column string, values []string) *queryBuilder {
	if len(values) == 0 {
		return qb
	}
	if !allowedColumns[qb.table][column] {
		panic(fmt.Sprintf("querybuilder: column %q not allowed on %q", column, qb.table))
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	qb.clauses = append(qb.clauses, fmt.Sprintf("%s IN (%s)", column, marks))
	for _, v := range values {
		qb.args = append(qb.args, v)
	}
	return qb
}

// whereRaw adds a fixed clause with positional args. The clause text must be
// a compile-time constant at every call site.
func (qb *queryBuilder) whereRaw(clause string, args ...any) *queryBuilder {
	qb.clauses = append(qb.clauses, clause)
	qb.args = append(qb.args, args...)
	return qb
}

// order sets the ORDER BY expression from whitelisted column names.
func (qb *queryBuilder) order(expr string) *queryBuilder {
	qb.orderBy = expr
	return qb
}

// selectSQL renders the SELECT without LIMIT so it can also back the count
// estimate.
func (qb *queryBuilder) selectSQL() (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", qb.columns, qb.table)
	if len(qb.clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(qb.clauses, " AND "))
	}
	if qb.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(qb.orderBy)
	}
	return b.String(), qb.args
}

// pageSQL renders the SELECT with the limit+1 probe applied.
func (qb *queryBuilder) pageSQL(req PageRequest) (string, []any) {
	query, args := qb.selectSQL()
	query += " LIMIT ? OFFSET ?"
	args = append(append([]any{}, args...), req.Limit+1, req.Offset)
	return query, args
}
