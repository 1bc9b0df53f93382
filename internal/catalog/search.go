// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// SearchMode selects the semantic search strategy.
type SearchMode string

const (
	ModeANN    SearchMode = "ann"
	ModeFTS    SearchMode = "fts"
	ModeHybrid SearchMode = "hybrid"
)

// ParseSearchMode validates a mode string, defaulting to hybrid.
func ParseSearchMode(raw string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeHybrid, "":
		return ModeHybrid, nil
	case ModeANN:
		return ModeANN, nil
	case ModeFTS:
		return ModeFTS, nil
	default:
		return "", fault.Newf(fault.Validation, "unknown search mode %q", raw)
	}
}

// Searcher answers approximate nearest-neighbour queries over the vector
// index. The vectors package provides the production implementation.
type Searcher interface {
	// Ready reports whether the index is built and queryable.
	Ready() bool
	// Search embeds the query and returns up to k hits by cosine similarity.
	Search(ctx context.Context, query string, k int) ([]SearchHit, error)
}

// SemanticSearch runs the requested search mode. ANN and hybrid require a
// ready vector index; a missing or unbuilt index is a gated condition, not an
// internal error.
func (s *Store) SemanticSearch(ctx context.Context, searcher Searcher, q string, mode SearchMode, k int) ([]SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fault.New(fault.Validation, "q is required")
	}
	if k <= 0 || k > 100 {
		k = 10
	}

	switch mode {
	case ModeFTS:
		return s.lexicalSearch(ctx, q, k)
	case ModeANN:
		if searcher == nil || !searcher.Ready() {
			return nil, fault.New(fault.Gated, "semantic index not ready")
		}
		hits, err := searcher.Search(ctx, q, k)
		if err != nil {
			return nil, err
		}
		return hits, nil
	case ModeHybrid:
		lexical, err := s.lexicalSearch(ctx, q, k)
		if err != nil {
			return nil, err
		}
		if searcher == nil || !searcher.Ready() {
			// Degrade to lexical-only rather than failing the query.
			return lexical, nil
		}
		ann, err := searcher.Search(ctx, q, k)
		if err != nil {
			return nil, err
		}
		return fuseHits(ann, lexical, k), nil
	default:
		return nil, fault.Newf(fault.Validation, "unknown search mode %q", mode)
	}
}

// lexicalSearch matches titles and filenames across movies, series and
// episodes, scoring by rough match tightness (needle share of the label).
func (s *Store) lexicalSearch(ctx context.Context, q string, k int) ([]SearchHit, error) {
	needle := "%" + strings.ToLower(q) + "%"
	query := `
		SELECT 'movie:' || id, COALESCE(title, BASENAME(path), '')
		FROM movies WHERE LOWER(COALESCE(title,'')) LIKE ? OR BASENAME(COALESCE(path,'')) LIKE ?
		UNION ALL
		SELECT 'series:' || id, COALESCE(title, '')
		FROM tv_series WHERE LOWER(COALESCE(title,'')) LIKE ?
		UNION ALL
		SELECT 'episode:' || id, COALESCE(title, BASENAME(path), '')
		FROM tv_episodes WHERE LOWER(COALESCE(title,'')) LIKE ? OR BASENAME(COALESCE(path,'')) LIKE ?
		LIMIT ?`
	rows, err := s.catalog.QueryContext(ctx, query, needle, needle, needle, needle, needle, k*4)
	if err != nil {
		return nil, db.WrapDBError("lexical search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var docID, label string
		if err := rows.Scan(&docID, &label); err != nil {
			return nil, db.WrapDBError("scan search hit", err)
		}
		hits = append(hits, SearchHit{
			DocID: docID,
			Title: label,
			Score: lexicalScore(q, label),
			Mode:  string(ModeFTS),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapDBError("lexical search", err)
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func lexicalScore(q, label string) float64 {
	if label == "" {
		return 0.1
	}
	score := float64(len(q)) / float64(len(label))
	if score > 1 {
		score = 1
	}
	return score
}

// fuseHits merges ANN and lexical results with reciprocal rank fusion. A
// document present in both lists outranks a same-rank document in one.
func fuseHits(ann, lexical []SearchHit, k int) []SearchHit {
	const rrfK = 60.0
	fused := make(map[string]*SearchHit)
	order := []string{}

	score := func(hits []SearchHit) {
		for rank, h := range hits {
			entry, ok := fused[h.DocID]
			if !ok {
				copied := h
				copied.Score = 0
				copied.Mode = string(ModeHybrid)
				fused[h.DocID] = &copied
				order = append(order, h.DocID)
				entry = &copied
			}
			if entry.Title == "" {
				entry.Title = h.Title
			}
			if entry.Text == "" {
				entry.Text = h.Text
			}
			entry.Score += 1.0 / (rrfK + float64(rank+1))
		}
	}
	score(ann)
	score(lexical)

	out := make([]SearchHit, 0, len(order))
	for _, id := range order {
		out = append(out, *fused[id])
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
