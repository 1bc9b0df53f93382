// SPDX-License-Identifier: MIT

// Package diagnostics runs the preflight probe set and the smoke-test
// harness, persisting reports under logs/ and exports/testruns/.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/gpu"
	"github.com/videocatalog/videocatalog/internal/log"
)

// Event id ranges, one block per probed subsystem.
const (
	eventGPU      = 1000
	eventTools    = 2000
	eventKeys     = 3000
	eventFS       = 4000
	eventCatalog  = 5000
	eventSettings = 6000
)

const preflightFileName = "diagnostics_preflight.json"

// ProbeResult is one preflight check outcome.
type ProbeResult struct {
	Name    string `json:"name"`
	EventID int    `json:"event_id"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// PreflightReport is the persisted snapshot of the latest run.
type PreflightReport struct {
	RunUTC string        `json:"run_utc"`
	OK     bool          `json:"ok"`
	Probes []ProbeResult `json:"probes"`
}

// GPUStatus is the slice of the prober preflight needs.
type GPUStatus interface {
	Status() gpu.Status
}

// Preflight runs the synchronous probe set.
type Preflight struct {
	paths    config.Paths
	cfg      config.Config
	prober   GPUStatus
	logger   zerolog.Logger
	lookPath func(string) (string, error)
	now      func() time.Time
}

func NewPreflight(cfg config.Config, prober GPUStatus) *Preflight {
	return &Preflight{
		paths:    cfg.Paths,
		cfg:      cfg,
		prober:   prober,
		logger:   log.WithComponent("diagnostics"),
		lookPath: exec.LookPath,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes every probe, logs each with its event id, and persists the
// snapshot to logs/diagnostics_preflight.json.
func (p *Preflight) Run(ctx context.Context) (*PreflightReport, error) {
	report := &PreflightReport{RunUTC: db.FormatUTC(p.now()), OK: true}

	report.add(p.probeGPU())
	report.add(p.probeTool(eventTools, "ffprobe"))
	report.add(p.probeTool(eventTools+1, "tesseract"))
	report.add(p.probeKeys())
	report.add(p.probeWritable())
	report.add(p.probeCatalog(ctx))
	report.add(p.probeSettings())

	for _, probe := range report.Probes {
		evt := p.logger.Info()
		if !probe.OK {
			evt = p.logger.Warn()
		}
		evt.Int("event_id", probe.EventID).Bool("ok", probe.OK).
			Str("detail", probe.Detail).Msg("preflight " + probe.Name)
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "encode preflight report", err)
	}
	path := filepath.Join(p.paths.LogsDir(), preflightFileName)
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return nil, fault.Wrap(fault.Internal, "write preflight report", err)
	}
	return report, nil
}

func (r *PreflightReport) add(probe ProbeResult) {
	r.Probes = append(r.Probes, probe)
	if !probe.OK {
		r.OK = false
	}
}

func (p *Preflight) probeGPU() ProbeResult {
	st := p.prober.Status()
	probe := ProbeResult{Name: "gpu", EventID: eventGPU, OK: st.AssistantReady, Detail: st.Reason}
	if st.AssistantReady && len(st.Devices) > 0 {
		probe.Detail = fmt.Sprintf("%s, %d MiB free", st.Devices[0].Name, st.Devices[0].FreeBytes>>20)
	}
	if !st.AssistantReady && !p.cfg.Diagnostics.GPUHardReq {
		// Soft requirement: report the detail but do not fail the run.
		probe.OK = true
		probe.Detail = "unavailable (soft requirement): " + probe.Detail
	}
	return probe
}

func (p *Preflight) probeTool(eventID int, name string) ProbeResult {
	path, err := p.lookPath(name)
	if err != nil {
		return ProbeResult{Name: "tool." + name, EventID: eventID, OK: false, Detail: "not found on PATH"}
	}
	return ProbeResult{Name: "tool." + name, EventID: eventID, OK: true, Detail: path}
}

func (p *Preflight) probeKeys() ProbeResult {
	var missing []string
	if p.cfg.TMDBAPIKey == "" {
		missing = append(missing, "TMDB_API_KEY")
	}
	if p.cfg.OpenSubtitlesAPIKey == "" {
		missing = append(missing, "OPENSUBTITLES_API_KEY")
	}
	if len(missing) > 0 {
		detail := "missing: "
		for i, k := range missing {
			if i > 0 {
				detail += ", "
			}
			detail += k
		}
		// Enrichment keys are optional; their absence degrades, not fails.
		return ProbeResult{Name: "api_keys", EventID: eventKeys, OK: true, Detail: detail}
	}
	return ProbeResult{Name: "api_keys", EventID: eventKeys, OK: true, Detail: "all configured"}
}

func (p *Preflight) probeWritable() ProbeResult {
	probe := ProbeResult{Name: "fs.writable", EventID: eventFS}
	f, err := os.CreateTemp(p.paths.LogsDir(), ".preflight-*")
	if err != nil {
		probe.Detail = err.Error()
		return probe
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	probe.OK = true
	probe.Detail = p.paths.LogsDir()
	return probe
}

func (p *Preflight) probeCatalog(ctx context.Context) ProbeResult {
	probe := ProbeResult{Name: "catalog.db", EventID: eventCatalog}
	conn, err := db.OpenRW(p.paths.CatalogDBPath())
	if err != nil {
		probe.Detail = fault.MessageOf(err)
		return probe
	}
	defer func() { _ = conn.Close() }()

	var mode string
	if err := conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		probe.Detail = "journal_mode unreadable"
		return probe
	}
	if mode != "wal" {
		probe.Detail = "journal_mode is " + mode + ", expected wal"
		return probe
	}
	var n int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('drives','events_queue','vectors_pending')`).Scan(&n)
	if err != nil || n != 3 {
		probe.Detail = "core tables missing"
		return probe
	}
	probe.OK = true
	probe.Detail = "wal, schema present"
	return probe
}

func (p *Preflight) probeSettings() ProbeResult {
	probe := ProbeResult{Name: "settings.unknown_keys", EventID: eventSettings, OK: true}
	raw, err := os.ReadFile(filepath.Join(p.paths.LogsDir(), "settings_unknown.json"))
	if err != nil {
		probe.Detail = "none recorded"
		return probe
	}
	var recorded struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(raw, &recorded); err != nil || len(recorded.Keys) == 0 {
		probe.Detail = "none recorded"
		return probe
	}
	probe.Detail = fmt.Sprintf("%d unknown settings key(s)", len(recorded.Keys))
	return probe
}

// LatestReport loads the persisted preflight snapshot, nil when absent.
func LatestReport(paths config.Paths) (*PreflightReport, error) {
	raw, err := os.ReadFile(filepath.Join(paths.LogsDir(), preflightFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "read preflight report", err)
	}
	var report PreflightReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fault.Wrap(fault.Internal, "decode preflight report", err)
	}
	return &report, nil
}
