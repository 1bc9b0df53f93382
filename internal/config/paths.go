// SPDX-License-Identifier: MIT

// Package config resolves the working directory, loads and migrates
// settings.json, and materialises the immutable typed configuration passed
// to every component at startup.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvHome overrides the working directory when set.
const EnvHome = "VIDEOCATALOG_HOME"

// Paths derives the storage layout under the resolved working directory.
type Paths struct {
	Root string
}

// DataDir is the directory holding the catalog and shard databases.
func (p Paths) DataDir() string { return filepath.Join(p.Root, "data") }

// ShardsDir holds one sqlite file per catalogued drive.
func (p Paths) ShardsDir() string { return filepath.Join(p.DataDir(), "shards") }

// ShardPath derives the shard database path for a drive label.
func (p Paths) ShardPath(label string) string {
	return filepath.Join(p.ShardsDir(), Safe(label)+".db")
}

// CatalogDBPath is the central catalog database.
func (p Paths) CatalogDBPath() string { return filepath.Join(p.DataDir(), "catalog.db") }

// OrchestratorDBPath holds jobs, checkpoints and resource locks.
func (p Paths) OrchestratorDBPath() string { return filepath.Join(p.DataDir(), "orchestrator.db") }

// TMDBCachePath holds cached TMDb lookup responses.
func (p Paths) TMDBCachePath() string { return filepath.Join(p.DataDir(), "tmdb_cache.db") }

// MetricsDBPath holds flushed realtime metric samples.
func (p Paths) MetricsDBPath() string { return filepath.Join(p.DataDir(), "web_metrics.db") }

// LogsDir holds structured logs and diagnostic snapshots.
func (p Paths) LogsDir() string { return filepath.Join(p.Root, "logs") }

// ExportsDir holds playlist exports, test runs and backups.
func (p Paths) ExportsDir() string { return filepath.Join(p.Root, "exports") }

// VectorsDir holds the semantic index and its metadata.
func (p Paths) VectorsDir() string { return filepath.Join(p.Root, "vectors") }

// SettingsPath is the merged settings document.
func (p Paths) SettingsPath() string { return filepath.Join(p.Root, "settings.json") }

// EnsureLayout creates the storage layout directories.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.DataDir(), p.ShardsDir(), p.LogsDir(), p.ExportsDir(), p.VectorsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Safe sanitises a drive label for use as a filename: alphanumerics, '_' and
// '-' pass through, everything else becomes '_'. An empty result is "drive".
func Safe(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "drive"
	}
	return b.String()
}

// ResolveWorkingDir picks the working directory. Resolution order, first
// writable candidate wins:
//  1. VIDEOCATALOG_HOME
//  2. working_dir / catalog_db from a legacy settings file
//  3. the system-wide data directory
//  4. the per-user data directory
//  5. ~/VideoCatalog
//
// It never fails: if no candidate is writable the home-based path is returned
// regardless.
func ResolveWorkingDir() string {
	home := homeFallback()
	for _, candidate := range candidates() {
		if candidate == "" {
			continue
		}
		if isWritableDir(candidate) {
			return candidate
		}
	}
	_ = os.MkdirAll(home, 0o755)
	return home
}

func candidates() []string {
	var out []string
	if env := strings.TrimSpace(os.Getenv(EnvHome)); env != "" {
		out = append(out, env)
	}
	if legacy := legacyWorkingDir(); legacy != "" {
		out = append(out, legacy)
	}
	out = append(out, systemDataDir(), userDataDir(), homeFallback())
	return out
}

// legacyWorkingDir reads working_dir (or the directory of catalog_db) from a
// pre-1.0 settings file left in the system config directory or beside the
// binary.
func legacyWorkingDir() string {
	for _, path := range legacySettingsPaths() {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if wd, ok := doc["working_dir"].(string); ok && wd != "" {
			return wd
		}
		if db, ok := doc["catalog_db"].(string); ok && db != "" {
			return filepath.Dir(filepath.Dir(db))
		}
	}
	return ""
}

func legacySettingsPaths() []string {
	paths := []string{filepath.Join(systemConfigDir(), "VideoCatalog", "settings.json")}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "settings.json"))
	}
	return paths
}

func systemConfigDir() string {
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return pd
		}
		return `C:\ProgramData`
	}
	return "/etc"
}

func systemDataDir() string {
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return filepath.Join(pd, "VideoCatalog")
		}
		return `C:\ProgramData\VideoCatalog`
	}
	return "/var/lib/videocatalog"
}

func userDataDir() string {
	if runtime.GOOS == "windows" {
		if lad := os.Getenv("LocalAppData"); lad != "" {
			return filepath.Join(lad, "VideoCatalog")
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "VideoCatalog")
	}
	return ""
}

func homeFallback() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "VideoCatalog")
	}
	return filepath.Join(os.TempDir(), "VideoCatalog")
}

// isWritableDir reports whether a file can be created and removed in dir.
// The directory is created first if absent.
func isWritableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name) == nil
}
