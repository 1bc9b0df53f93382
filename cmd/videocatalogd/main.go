// SPDX-License-Identifier: MIT

// videocatalogd is the VideoCatalog service core: it serves the LAN HTTP API,
// fans catalog events out to SSE and WebSocket subscribers, and runs the
// background job orchestrator over the central catalog and its per-drive
// shards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/videocatalog/videocatalog/internal/api"
	"github.com/videocatalog/videocatalog/internal/assistant"
	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/diagnostics"
	"github.com/videocatalog/videocatalog/internal/enrich"
	"github.com/videocatalog/videocatalog/internal/events"
	"github.com/videocatalog/videocatalog/internal/gpu"
	"github.com/videocatalog/videocatalog/internal/log"
	"github.com/videocatalog/videocatalog/internal/media"
	"github.com/videocatalog/videocatalog/internal/realtime"
	"github.com/videocatalog/videocatalog/internal/scheduler"
	"github.com/videocatalog/videocatalog/internal/vectors"
	"github.com/videocatalog/videocatalog/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	home := flag.String("home", "", "working directory (overrides "+config.EnvHome+")")
	flag.Parse()

	if *showVersion {
		fmt.Printf("videocatalogd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	log.Configure(log.Config{Level: "info", Service: "videocatalogd", Version: version.Version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *home); err != nil {
		logger.Error().Err(err).Msg("daemon failed")
		os.Exit(1)
	}
	logger.Info().Msg("daemon exiting")
}

func run(ctx context.Context, logger zerolog.Logger, home string) error {
	if home == "" {
		home = config.ResolveWorkingDir()
	}
	paths := config.Paths{Root: home}
	if err := paths.EnsureLayout(); err != nil {
		return fmt.Errorf("create storage layout: %w", err)
	}

	settings, err := config.LoadSettings(paths)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	cfg := config.FromSettings(paths, settings)
	holder := config.NewHolder(paths, cfg)

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("home", home).
		Bool("lan_only", cfg.Server.LANOnly).
		Bool("orchestrator", cfg.Orchestrator.Enable).
		Msg("starting videocatalogd")
	if cfg.API.APIKey == "" {
		logger.Warn().Msg("API key not configured, authentication is disabled")
	}

	// Central catalog: one RW connection carries the event queue and the
	// transcription writes; the query store opens its own read-only pool.
	conn, err := db.OpenRW(paths.CatalogDBPath())
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if err := db.EnsureCatalogSchema(conn); err != nil {
		return err
	}

	store, err := catalog.NewStore(paths, cfg.API)
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}
	defer func() { _ = store.Close() }()

	monitor := realtime.NewMonitor()
	flusher, err := realtime.NewFlusher(monitor, paths.MetricsDBPath(), cfg.Realtime.FlushInterval)
	if err != nil {
		return fmt.Errorf("open metrics store: %w", err)
	}
	defer func() { _ = flusher.Close() }()

	broker, err := events.NewBroker(conn, events.Config{}, monitor)
	if err != nil {
		return fmt.Errorf("start event broker: %w", err)
	}

	prober := gpu.NewProber(cfg.GPU, cfg.Orchestrator.GPUSafetyMB)
	st := prober.Reprobe(ctx)
	logger.Info().Bool("present", st.Present).Bool("assistant_ready", st.AssistantReady).
		Str("policy", string(cfg.GPU.Policy)).Msg("gpu probed")

	jobs, err := scheduler.OpenStore(paths.OrchestratorDBPath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() { _ = jobs.Close() }()

	vs, err := vectors.NewService(cfg, jobs)
	if err != nil {
		return fmt.Errorf("start vector service: %w", err)
	}
	defer func() { _ = vs.Close() }()

	orch := scheduler.NewOrchestrator(jobs, cfg.Orchestrator, prober)
	orch.Register(vectors.JobKind, vs.Handler())
	orch.Register(media.TranscribeJobKind, media.NewTranscriber(conn, "").Handler())

	tmdb, err := enrich.NewTMDBClient(cfg.TMDBAPIKey, paths.TMDBCachePath())
	if err != nil {
		return fmt.Errorf("open tmdb cache: %w", err)
	}
	defer func() { _ = tmdb.Close() }()

	var gateway *assistant.Gateway
	if cfg.Assistant.Enable {
		gateway, err = assistant.NewGateway(cfg, prober, store, vectorSearcher(vs), tmdb, monitor)
		if err != nil {
			return fmt.Errorf("start assistant gateway: %w", err)
		}
		defer func() { _ = gateway.Close() }()
	}

	var preflight *diagnostics.Preflight
	var harness *diagnostics.Harness
	if cfg.Diagnostics.Enable {
		preflight = diagnostics.NewPreflight(cfg, prober)
		harness = diagnostics.NewHarness(cfg)
		diagnostics.RegisterStandardTests(harness, store, diagSearcher(vs))
		orch.SetGateFile(harness.GateFile())

		report, err := preflight.Run(ctx)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		if !report.OK {
			logger.Warn().Msg("preflight reported failures, see logs/diagnostics_preflight.json")
		}
	}

	server := api.NewServer(cfg, api.Deps{
		Store:     store,
		Broker:    broker,
		Monitor:   monitor,
		Vectors:   vs,
		Jobs:      jobs,
		Gateway:   gateway,
		Preflight: preflight,
		Harness:   harness,
		Version:   version.Version,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(server.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(broker.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(flusher.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(vs.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(holder.Watch(ctx)) })
	if cfg.Orchestrator.Enable {
		g.Go(func() error { return ignoreCanceled(orch.Run(ctx)) })
	}

	if cfg.Assistant.RAG.Enable && cfg.Assistant.RAG.RefreshOnStart {
		if cfg.Orchestrator.Enable {
			if _, err := jobs.Enqueue(ctx, scheduler.EnqueueRequest{
				Kind:     vectors.JobKind,
				Resource: scheduler.ResourceHeavyAIGPU,
				Dedup:    true,
			}); err != nil {
				logger.Warn().Err(err).Msg("startup index refresh enqueue failed")
			}
		} else {
			g.Go(func() error {
				if err := vs.Rebuild(ctx); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Msg("startup index rebuild failed")
				}
				return nil
			})
		}
	}

	return g.Wait()
}

// vectorSearcher hands the vector service to the gateway without letting a
// typed nil slip into the interface.
func vectorSearcher(vs *vectors.Service) catalog.Searcher {
	if vs == nil {
		return nil
	}
	return vs
}

func diagSearcher(vs *vectors.Service) diagnostics.Searcher {
	if vs == nil {
		return nil
	}
	return vs
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
