// SPDX-License-Identifier: MIT

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/enrich"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// tool is one read-only capability offered to the model.
type tool struct {
	def llms.Tool
	run func(ctx context.Context, args map[string]any) (string, error)
}

// toolset bundles everything the assistant may touch. All of it is
// read-only against the catalog; the only writes an ask can cause are the
// session tables.
type toolset struct {
	store    *catalog.Store
	searcher catalog.Searcher
	tmdb     *enrich.TMDBClient
	tools    []tool
}

func newToolset(store *catalog.Store, searcher catalog.Searcher, tmdb *enrich.TMDBClient) *toolset {
	ts := &toolset{store: store, searcher: searcher, tmdb: tmdb}
	ts.tools = []tool{
		{
			def: funcTool("search_catalog",
				"Search the media catalog by meaning and keywords. Returns matching movies, episodes, music and documents.",
				map[string]any{
					"query": prop("string", "what to look for"),
					"k":     prop("integer", "maximum results, default 5"),
				}, "query"),
			run: ts.searchCatalog,
		},
		{
			def: funcTool("list_movies",
				"List catalogued movies filtered by title substring, year range or quality.",
				map[string]any{
					"title":    prop("string", "title substring"),
					"year_min": prop("integer", "earliest release year"),
					"year_max": prop("integer", "latest release year"),
					"quality":  prop("string", "video quality label, e.g. 1080p"),
					"limit":    prop("integer", "maximum rows, default 10"),
				}),
			run: ts.listMovies,
		},
		{
			def: funcTool("tmdb_lookup",
				"Look up a movie on TMDb for overview, rating and release year.",
				map[string]any{
					"title": prop("string", "movie title"),
					"year":  prop("integer", "release year if known"),
				}, "title"),
			run: ts.tmdbLookup,
		},
		{
			def: funcTool("playlist_dry_run",
				"Preview which movies a playlist with the given constraints would contain. Does not write any file.",
				map[string]any{
					"confidence_min": prop("number", "minimum match confidence 0..1"),
					"audio_lang":     prop("string", "required audio language code"),
					"drive":          prop("string", "restrict to one drive label"),
					"count":          prop("integer", "playlist length, default 10"),
				}),
			run: ts.playlistDryRun,
		},
		{
			def: funcTool("open_folder",
				"Produce a plan for opening the folder containing a catalog path in the user's file manager.",
				map[string]any{
					"path": prop("string", "catalog file or folder path"),
				}, "path"),
			run: ts.openFolder,
		},
	}
	return ts
}

func (ts *toolset) defs() []llms.Tool {
	defs := make([]llms.Tool, len(ts.tools))
	for i, t := range ts.tools {
		defs[i] = t.def
	}
	return defs
}

// dispatch runs the named tool. Unknown tools return an error string to the
// model rather than failing the ask.
func (ts *toolset) dispatch(ctx context.Context, name, rawArgs string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fault.Wrap(fault.Validation, "decode tool arguments", err)
		}
	}
	for _, t := range ts.tools {
		if t.def.Function.Name == name {
			return t.run(ctx, args)
		}
	}
	return "", fault.Newf(fault.Validation, "unknown tool %q", name)
}

func (ts *toolset) searchCatalog(ctx context.Context, args map[string]any) (string, error) {
	query := argString(args, "query")
	k := argInt(args, "k", 5)
	hits, err := ts.store.SemanticSearch(ctx, ts.searcher, query, catalog.ModeHybrid, k)
	if err != nil {
		return "", err
	}
	return toolJSON(map[string]any{"hits": hits})
}

func (ts *toolset) listMovies(ctx context.Context, args map[string]any) (string, error) {
	filter := catalog.MovieFilter{
		Q:       argString(args, "title"),
		YearMin: argInt(args, "year_min", 0),
		YearMax: argInt(args, "year_max", 0),
		Quality: argString(args, "quality"),
	}
	page, err := ts.store.Movies(ctx, filter, catalog.PageRequest{Limit: argInt(args, "limit", 10)})
	if err != nil {
		return "", err
	}
	return toolJSON(map[string]any{"movies": page.Results})
}

func (ts *toolset) tmdbLookup(ctx context.Context, args map[string]any) (string, error) {
	info, err := ts.tmdb.LookupMovie(ctx, argString(args, "title"), argInt(args, "year", 0))
	if err != nil {
		return "", err
	}
	return toolJSON(info)
}

func (ts *toolset) playlistDryRun(ctx context.Context, args map[string]any) (string, error) {
	filter := catalog.PlaylistFilter{
		ConfidenceMin: argFloat(args, "confidence_min"),
		DriveLabel:    argString(args, "drive"),
	}
	if lang := argString(args, "audio_lang"); lang != "" {
		filter.AudioLangs = []string{lang}
	}
	candidates, err := ts.store.PlaylistCandidates(ctx, filter)
	if err != nil {
		return "", err
	}
	count := argInt(args, "count", 10)
	entries := catalog.BuildPlaylist(candidates, catalog.StrategyByConfidence, count, 0)
	titles := make([]string, 0, len(entries))
	for _, m := range entries {
		title := ""
		if m.Title != nil {
			title = *m.Title
		}
		titles = append(titles, title)
	}
	return toolJSON(map[string]any{
		"candidates": len(candidates),
		"would_pick": titles,
	})
}

func (ts *toolset) openFolder(_ context.Context, args map[string]any) (string, error) {
	path := strings.TrimSpace(argString(args, "path"))
	if path == "" {
		return "", fault.New(fault.Validation, "path is required")
	}
	return toolJSON(map[string]any{"plan": "shell_open", "path": path})
}

func funcTool(name, description string, props map[string]any, required ...string) llms.Tool {
	if required == nil {
		required = []string{}
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func toolJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fault.Wrap(fault.Internal, "encode tool result", err)
	}
	return string(raw), nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return def
}

func argFloat(args map[string]any, key string) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return 0
}
