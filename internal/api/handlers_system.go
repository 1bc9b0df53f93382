// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/videocatalog/videocatalog/internal/assistant"
	"github.com/videocatalog/videocatalog/internal/diagnostics"
	"github.com/videocatalog/videocatalog/internal/fault"
)

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, fault.New(fault.Gated, "realtime monitor disabled"))
		return
	}
	resp := map[string]any{"status": s.deps.Monitor.Snapshot()}
	if s.deps.Broker != nil {
		sse, ws := s.deps.Broker.SubscriberCount()
		resp["subscribers"] = map[string]any{"sse": sse, "ws": ws}
		resp["last_seq"] = s.deps.Broker.LastSeq()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRealtimeHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, fault.New(fault.Gated, "realtime monitor disabled"))
		return
	}
	var req struct {
		ClientID string `json:"client_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ClientID == "" {
		writeError(w, fault.New(fault.Validation, "client_id is required"))
		return
	}
	s.deps.Monitor.Heartbeat(req.ClientID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAssistantStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeJSON(w, http.StatusOK, assistant.GatewayStatus{
			Enabled: false,
			Message: "assistant disabled in settings",
		})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Gateway.Status())
}

func (s *Server) handleAssistantAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, fault.New(fault.Gated, "assistant disabled in settings"))
		return
	}
	var req assistant.AskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.deps.Gateway.Ask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// playlistAsk frames a playlist wish so the model reaches for the dry-run
// tool instead of inventing titles.
func (s *Server) playlistAsk(sessionID, prompt string) assistant.AskRequest {
	return assistant.AskRequest{
		SessionID: sessionID,
		Question: "Build a playlist suggestion for this wish, using the playlist_dry_run tool " +
			"to check what the catalog can actually provide: " + prompt,
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preflight == nil {
		writeError(w, fault.New(fault.Gated, "diagnostics disabled"))
		return
	}
	report, err := s.deps.Preflight.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSmoke(w http.ResponseWriter, r *http.Request) {
	if s.deps.Harness == nil {
		writeError(w, fault.New(fault.Gated, "diagnostics disabled"))
		return
	}
	summary, err := s.deps.Harness.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDiagnosticsReports(w http.ResponseWriter, r *http.Request) {
	runs, err := diagnostics.ListRuns(s.cfg.Paths)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"runs": runs}
	if report, err := diagnostics.LatestReport(s.cfg.Paths); err == nil && report != nil {
		resp["preflight"] = report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagnosticsReport(w http.ResponseWriter, r *http.Request) {
	path, err := diagnostics.RunFile(s.cfg.Paths, r.URL.Query().Get("ts"), "summary.md")
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		writeError(w, fault.Wrap(fault.Internal, "read report", err))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(raw)
}

func (s *Server) handleDiagnosticsDownload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	if name == "" {
		name = "junit.xml"
	}
	path, err := diagnostics.RunFile(s.cfg.Paths, r.URL.Query().Get("ts"), name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}
