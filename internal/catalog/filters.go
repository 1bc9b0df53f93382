// SPDX-License-Identifier: MIT

package catalog

import (
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// InventoryFilter is the normalised filter set for inventory listings.
type InventoryFilter struct {
	Q        string // substring, matched against path and BASENAME(path)
	Category string
	Ext      string
	Mime     string
	Since    string // canonical ...Z timestamp
}

var validCategories = map[string]bool{
	"video": true, "audio": true, "image": true, "document": true,
	"archive": true, "executable": true, "other": true,
}

// NormalizeInventoryFilter lowercases the enum-ish fields and canonicalises
// the since timestamp. A since value without timezone is treated as UTC.
func NormalizeInventoryFilter(q, category, ext, mime, since string) (InventoryFilter, error) {
	f := InventoryFilter{
		Q:        strings.TrimSpace(q),
		Category: strings.ToLower(strings.TrimSpace(category)),
		Ext:      strings.ToLower(strings.TrimSpace(ext)),
		Mime:     strings.ToLower(strings.TrimSpace(mime)),
	}
	if f.Category != "" && !validCategories[f.Category] {
		return f, fault.Newf(fault.Validation, "unknown category %q", f.Category)
	}
	f.Ext = strings.TrimPrefix(f.Ext, ".")
	if raw := strings.TrimSpace(since); raw != "" {
		t, err := db.ParseUTC(raw)
		if err != nil {
			return f, fault.Newf(fault.Validation, "invalid since timestamp %q", raw)
		}
		f.Since = db.FormatUTC(t)
	}
	return f, nil
}

// apply adds the filter's clauses to a query builder.
func (f InventoryFilter) apply(qb *queryBuilder) {
	if f.Q != "" {
		needle := "%" + strings.ToLower(f.Q) + "%"
		qb.whereRaw("(LOWER(path) LIKE ? OR BASENAME(path) LIKE ?)", needle, needle)
	}
	if f.Category != "" {
		qb.where("category", "=", f.Category)
	}
	if f.Ext != "" {
		qb.where("ext", "=", f.Ext)
	}
	if f.Mime != "" {
		qb.where("mime", "=", f.Mime)
	}
	if f.Since != "" {
		qb.where("mtime_utc", ">=", f.Since)
	}
}
