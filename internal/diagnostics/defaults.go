// SPDX-License-Identifier: MIT

package diagnostics

import (
	"context"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// Searcher is the slice of the vector service the smoke tests exercise.
type Searcher interface {
	Ready() bool
	Search(ctx context.Context, q string, k int) ([]catalog.SearchHit, error)
}

// RegisterStandardTests wires the built-in functional checks: catalog reads,
// structure-aware queries, playlist selection and the semantic index.
func RegisterStandardTests(h *Harness, store *catalog.Store, searcher Searcher) {
	h.Add(SmokeTest{Name: "catalog.summary", Run: func(ctx context.Context) (any, error) {
		return store.CatalogSummary(ctx)
	}})
	h.Add(SmokeTest{Name: "catalog.drives", Run: func(ctx context.Context) (any, error) {
		drives, err := store.Drives(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(drives)}, nil
	}})
	h.Add(SmokeTest{Name: "catalog.movies_page", Run: func(ctx context.Context) (any, error) {
		page, err := store.Movies(ctx, catalog.MovieFilter{}, catalog.PageRequest{Limit: 5})
		if err != nil {
			return nil, err
		}
		return map[string]any{"returned": len(page.Results)}, nil
	}})
	h.Add(SmokeTest{Name: "catalog.tv_mapping", Run: func(ctx context.Context) (any, error) {
		page, err := store.SeriesList(ctx, "", catalog.PageRequest{Limit: 5})
		if err != nil {
			return nil, err
		}
		for _, series := range page.Results {
			if _, err := store.Seasons(ctx, series.ID); err != nil {
				return nil, err
			}
		}
		return map[string]any{"series": len(page.Results)}, nil
	}})
	h.Add(SmokeTest{Name: "playlist.dry_run", Run: func(ctx context.Context) (any, error) {
		candidates, err := store.PlaylistCandidates(ctx, catalog.PlaylistFilter{})
		if err != nil {
			return nil, err
		}
		picked := catalog.BuildPlaylist(candidates, catalog.StrategyByConfidence, 5, 0)
		return map[string]any{"candidates": len(candidates), "picked": len(picked)}, nil
	}})
	h.Add(SmokeTest{Name: "semantic.index", Run: func(ctx context.Context) (any, error) {
		if searcher == nil || !searcher.Ready() {
			// Not an error: the index simply has not been built yet.
			return map[string]any{"ready": false}, nil
		}
		hits, err := searcher.Search(ctx, "smoke probe", 1)
		if err != nil && !fault.IsKind(err, fault.Gated) {
			return nil, err
		}
		return map[string]any{"ready": true, "hits": len(hits)}, nil
	}})
}
