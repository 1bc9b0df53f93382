// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/media"
	"github.com/videocatalog/videocatalog/internal/scheduler"
	"github.com/videocatalog/videocatalog/internal/vectors"
)

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	mode, err := catalog.ParseSearchMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, err)
		return
	}
	hits, err := s.deps.Store.SemanticSearch(r.Context(), s.searcher(),
		r.URL.Query().Get("q"), mode, queryInt(r, "k", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "mode": mode})
}

func (s *Server) handleSemanticIndexStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Vectors == nil {
		writeError(w, fault.New(fault.Gated, "semantic index not ready"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Vectors.Status())
}

// handleSemanticIndexBuild triggers a rebuild. With the orchestrator enabled
// the work is queued as a heavy_ai_gpu job; otherwise it runs inline before
// responding.
func (s *Server) handleSemanticIndexBuild(w http.ResponseWriter, r *http.Request) {
	if s.deps.Vectors == nil {
		writeError(w, fault.New(fault.Gated, "semantic index not ready"))
		return
	}
	if s.deps.Jobs != nil && s.cfg.Orchestrator.Enable {
		job, err := s.deps.Jobs.Enqueue(r.Context(), scheduler.EnqueueRequest{
			Kind:     vectors.JobKind,
			Resource: scheduler.ResourceHeavyAIGPU,
			Dedup:    true,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		resp := map[string]any{"queued": true}
		if job != nil {
			resp["job_id"] = job.ID
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	if err := s.deps.Vectors.Rebuild(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Vectors.Status())
}

// handleTranscribe queues a transcription batch for the orchestrator.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil || !s.cfg.Orchestrator.Enable {
		writeError(w, fault.New(fault.Gated, "orchestrator disabled"))
		return
	}
	var req struct {
		DriveLabel string   `json:"drive_label"`
		Paths      []string `json:"paths"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.deps.Jobs.Enqueue(r.Context(), scheduler.EnqueueRequest{
		Kind:     media.TranscribeJobKind,
		Resource: scheduler.ResourceHeavyAIGPU,
		Payload:  req,
		Dedup:    true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"queued": true}
	if job != nil {
		resp["job_id"] = job.ID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type playlistRequest struct {
	Strategy      string   `json:"strategy"`
	Count         int      `json:"count"`
	Seed          int64    `json:"seed"`
	ConfidenceMin float64  `json:"confidence_min"`
	AudioLangs    []string `json:"audio_langs"`
	DriveLabel    string   `json:"drive_label"`
	DurationMinS  int      `json:"duration_min_s"`
	DurationMaxS  int      `json:"duration_max_s"`
}

func (p playlistRequest) filter() catalog.PlaylistFilter {
	return catalog.PlaylistFilter{
		DurationMinS:  p.DurationMinS,
		DurationMaxS:  p.DurationMaxS,
		ConfidenceMin: p.ConfidenceMin,
		AudioLangs:    p.AudioLangs,
		DriveLabel:    p.DriveLabel,
	}
}

func (s *Server) buildPlaylist(r *http.Request, req playlistRequest) ([]catalog.Movie, int, error) {
	strategy, err := catalog.ParsePlaylistStrategy(req.Strategy)
	if err != nil {
		return nil, 0, err
	}
	candidates, err := s.deps.Store.PlaylistCandidates(r.Context(), req.filter())
	if err != nil {
		return nil, 0, err
	}
	return catalog.BuildPlaylist(candidates, strategy, req.Count, req.Seed), len(candidates), nil
}

func (s *Server) handlePlaylistSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := playlistRequest{
		Strategy:      q.Get("strategy"),
		Count:         queryInt(r, "count", 0),
		Seed:          queryInt64(r, "seed", 0),
		ConfidenceMin: queryFloat(r, "confidence_min"),
		AudioLangs:    csv(q.Get("audio_langs")),
		DriveLabel:    q.Get("drive_label"),
	}
	entries, candidates, err := s.buildPlaylist(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "entries": entries})
}

func (s *Server) handlePlaylistBuild(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries, candidates, err := s.buildPlaylist(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "entries": entries})
}

func (s *Server) handlePlaylistExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		playlistRequest
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries, _, err := s.buildPlaylist(r, req.playlistRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.deps.Store.ExportPlaylistM3U(req.Name, entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "entries": len(entries)})
}

func (s *Server) handlePlaylistOpenFolder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plan": "shell_open",
		"path": s.cfg.Paths.ExportsDir(),
	})
}

// handlePlaylistAI routes a free-form playlist wish through the assistant.
func (s *Server) handlePlaylistAI(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, fault.New(fault.Gated, "assistant disabled in settings"))
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.deps.Gateway.Ask(r.Context(), s.playlistAsk(req.SessionID, req.Prompt))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
