// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/fault"
)

func csv(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func movieFilterFromQuery(r *http.Request) catalog.MovieFilter {
	q := r.URL.Query()
	return catalog.MovieFilter{
		Q:             q.Get("q"),
		YearMin:       queryInt(r, "year_min", 0),
		YearMax:       queryInt(r, "year_max", 0),
		ConfidenceMin: queryFloat(r, "confidence_min"),
		Quality:       q.Get("quality"),
		AudioLangs:    csv(q.Get("audio_langs")),
		SubLangs:      csv(q.Get("sub_langs")),
		DriveLabel:    q.Get("drive_label"),
		LowConfidence: queryBool(r, "low_confidence"),
	}
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Store.Movies(r.Context(), movieFilterFromQuery(r), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Store.SeriesList(r.Context(), r.URL.Query().Get("q"), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	id := queryInt64(r, "series_id", 0)
	if id <= 0 {
		writeError(w, fault.New(fault.Validation, "series_id is required"))
		return
	}
	seasons, err := s.deps.Store.Seasons(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seasons": seasons})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	id := queryInt64(r, "series_id", 0)
	if id <= 0 {
		writeError(w, fault.New(fault.Validation, "series_id is required"))
		return
	}
	var season *int
	if raw := r.URL.Query().Get("season"); raw != "" {
		n := queryInt(r, "season", 0)
		season = &n
	}
	page, err := s.deps.Store.Episodes(r.Context(), id, season, pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Store.ItemByID(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Store.CatalogSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Store.CatalogSearch(r.Context(), r.URL.Query().Get("q"), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	blob, err := s.deps.Store.Thumbnail(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(blob))
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write(blob)
}

func (s *Server) handleOpenFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, fault.New(fault.Validation, "path is required"))
		return
	}
	// The server never shells out; the client executes the plan locally.
	writeJSON(w, http.StatusOK, map[string]any{"plan": "shell_open", "path": req.Path})
}

func (s *Server) handleMusic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Store.Music(r.Context(), q.Get("drive_label"), q.Get("q"), false, pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMusicReview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Store.Music(r.Context(), q.Get("drive_label"), q.Get("q"), true, pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTextVerify(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")
	if status == "" {
		status = r.URL.Query().Get("status")
	}
	page, err := s.deps.Store.TextVerify(r.Context(), r.URL.Query().Get("drive_label"), status, pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTextLitePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Store.TextLitePreviews(r.Context(), q.Get("drive_label"), q.Get("q"), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDocsPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Store.DocsPreviews(r.Context(), q.Get("drive_label"), q.Get("q"), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
