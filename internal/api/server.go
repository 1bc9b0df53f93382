// SPDX-License-Identifier: MIT

// Package api is the HTTP boundary: authenticated REST reads over the
// catalog, the gated assistant gateway, diagnostics triggers, and the
// SSE/WebSocket subscribe transports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/assistant"
	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/diagnostics"
	"github.com/videocatalog/videocatalog/internal/events"
	"github.com/videocatalog/videocatalog/internal/log"
	"github.com/videocatalog/videocatalog/internal/realtime"
	"github.com/videocatalog/videocatalog/internal/scheduler"
	"github.com/videocatalog/videocatalog/internal/vectors"
)

const (
	shutdownTimeout = 10 * time.Second
	staticUIDir     = "web/catalog-ui/dist"
)

// Deps collects the wired components. Nil members disable their routes with a
// gated response rather than failing startup.
type Deps struct {
	Store     *catalog.Store
	Broker    *events.Broker
	Monitor   *realtime.Monitor
	Vectors   *vectors.Service
	Jobs      *scheduler.Store
	Gateway   *assistant.Gateway
	Preflight *diagnostics.Preflight
	Harness   *diagnostics.Harness
	Version   string
}

// Server owns the router and the HTTP listener lifecycle.
type Server struct {
	cfg     config.Config
	deps    Deps
	logger  zerolog.Logger
	started time.Time
}

func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  log.WithComponent("api"),
		started: time.Now().UTC(),
	}
}

// searcher returns the vector service as a catalog.Searcher, nil when absent.
// The indirection avoids a typed-nil interface slipping into SemanticSearch.
func (s *Server) searcher() catalog.Searcher {
	if s.deps.Vectors == nil {
		return nil
	}
	return s.deps.Vectors
}

// Router assembles the middleware chain and the /v1 route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.lanOnly)
	r.Use(s.auth)
	r.Use(log.Middleware())
	r.Use(s.cors)
	r.Use(metricsMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/drives", s.handleDrives)
		r.Get("/inventory", s.handleInventory)
		r.Get("/file", s.handleFile)
		r.Get("/stats", s.handleStats)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/overview", s.handleReportOverview)
			r.Get("/top-extensions", s.handleReportTopExtensions)
			r.Get("/largest-files", s.handleReportLargestFiles)
			r.Get("/heaviest-folders", s.handleReportHeaviestFolders)
			r.Get("/recent", s.handleReportRecent)
		})

		r.Get("/features", s.handleFeatures)
		r.Get("/features/vector", s.handleFeatureVector)

		r.Route("/semantic", func(r chi.Router) {
			r.Get("/search", s.handleSemanticSearch)
			r.Get("/index", s.handleSemanticIndexStatus)
			r.With(httprate.LimitByIP(6, time.Minute)).Post("/index", s.handleSemanticIndexBuild)
			r.With(httprate.LimitByIP(6, time.Minute)).Post("/transcribe", s.handleTranscribe)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/movies", s.handleMovies)
			r.Get("/tv/series", s.handleSeries)
			r.Get("/tv/seasons", s.handleSeasons)
			r.Get("/tv/episodes", s.handleEpisodes)
			r.Get("/item", s.handleItem)
			r.Get("/summary", s.handleSummary)
			r.Get("/search", s.handleCatalogSearch)
			r.Get("/thumb", s.handleThumb)
			r.Post("/open-folder", s.handleOpenFolder)
			r.Get("/subscribe", s.handleSubscribe)
			r.Get("/realtime/status", s.handleRealtimeStatus)
			r.Post("/realtime/heartbeat", s.handleRealtimeHeartbeat)
		})

		r.Get("/music", s.handleMusic)
		r.Get("/music/review", s.handleMusicReview)
		r.Get("/textverify", s.handleTextVerify)
		r.Get("/textverify/{status}", s.handleTextVerify)
		r.Get("/textlite/preview", s.handleTextLitePreview)
		r.Get("/docs/preview", s.handleDocsPreview)

		r.Route("/playlist", func(r chi.Router) {
			r.Get("/suggest", s.handlePlaylistSuggest)
			r.Post("/build", s.handlePlaylistBuild)
			r.Post("/export", s.handlePlaylistExport)
			r.Post("/open-folder", s.handlePlaylistOpenFolder)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/ai", s.handlePlaylistAI)
		})

		r.Route("/assistant", func(r chi.Router) {
			r.Get("/status", s.handleAssistantStatus)
			r.With(httprate.LimitByIP(20, time.Minute)).Post("/ask", s.handleAssistantAsk)
		})

		r.Route("/diagnostics", func(r chi.Router) {
			r.Use(httprate.LimitByIP(6, time.Minute))
			r.Post("/preflight", s.handlePreflight)
			r.Post("/smoke", s.handleSmoke)
			r.Get("/reports", s.handleDiagnosticsReports)
			r.Get("/report", s.handleDiagnosticsReport)
			r.Get("/download", s.handleDiagnosticsDownload)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	if info, err := os.Stat(staticUIDir); err == nil && info.IsDir() {
		fs := http.FileServer(http.Dir(staticUIDir))
		r.Handle("/*", fs)
		s.logger.Info().Str("dir", staticUIDir).Msg("static UI mounted")
	}
	return r
}

// Run serves until ctx is cancelled, then drains with a shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	host := s.cfg.API.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := s.cfg.API.Port
	if port == 0 {
		port = 8765
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
