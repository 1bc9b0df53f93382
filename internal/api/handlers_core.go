// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/videocatalog/videocatalog/internal/catalog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"version":   s.deps.Version,
		"uptime_s":  int64(time.Since(s.started).Seconds()),
		"assistant": map[string]any{"tool_budget": s.cfg.Assistant.ToolBudget},
	}
	if s.deps.Monitor != nil {
		snap := s.deps.Monitor.Snapshot()
		resp["realtime"] = map[string]any{
			"events_pushed_total":  snap.EventsPushedTotal,
			"events_dropped_total": snap.EventsDroppedTotal,
			"sse_connected":        snap.SSEConnected,
			"ws_connected":         snap.WSConnected,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDrives(w http.ResponseWriter, r *http.Request) {
	drives, err := s.deps.Store.Drives(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drives": drives})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := catalog.NormalizeInventoryFilter(
		q.Get("q"), q.Get("category"), q.Get("ext"), q.Get("mime"), q.Get("since"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.deps.Store.Inventory(r.Context(), q.Get("drive_label"), filter, pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	row, err := s.deps.Store.File(r.Context(), q.Get("drive_label"), q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.DriveStats(r.Context(), r.URL.Query().Get("drive_label"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleReportOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.deps.Store.ReportOverview(r.Context(), r.URL.Query().Get("drive_label"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleReportTopExtensions(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.ReportTopExtensions(r.Context(),
		r.URL.Query().Get("drive_label"), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": stats})
}

func (s *Server) handleReportLargestFiles(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Store.ReportLargestFiles(r.Context(),
		r.URL.Query().Get("drive_label"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": rows})
}

func (s *Server) handleReportHeaviestFolders(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Store.ReportHeaviestFolders(r.Context(),
		r.URL.Query().Get("drive_label"), queryInt(r, "depth", 2), queryInt(r, "limit", 25))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": rows})
}

func (s *Server) handleReportRecent(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Store.ReportRecentChanges(r.Context(),
		r.URL.Query().Get("drive_label"), queryInt(r, "days", 30), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.deps.Store.Features(r.Context(), q.Get("drive_label"), q.Get("kind"), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFeatureVector(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vec, err := s.deps.Store.FeatureVector(r.Context(),
		q.Get("drive_label"), q.Get("path"), q.Get("kind"), queryBool(r, "raw"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vec)
}
