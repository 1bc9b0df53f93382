// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, paths Paths, doc map[string]any) {
	t.Helper()
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.SettingsPath(), payload, 0o644))
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	paths := Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())

	s, err := LoadSettings(paths)
	require.NoError(t, err)
	assert.Empty(t, s.UnknownKeys)
	cfg := FromSettings(paths, s)
	assert.Equal(t, 100, cfg.API.DefaultLimit)
	assert.Equal(t, 500, cfg.API.MaxPageSize)
	assert.True(t, cfg.Server.LANOnly)
	assert.Equal(t, 10*time.Second, cfg.Realtime.FlushInterval)
	assert.Equal(t, 1, cfg.Orchestrator.Concurrency["heavy_ai_gpu"])
}

func TestRealtimeFlushIntervalOverride(t *testing.T) {
	paths := Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())
	writeSettings(t, paths, map[string]any{
		"version":  SettingsVersion,
		"realtime": map[string]any{"flush_interval_s": 30},
	})

	s, err := LoadSettings(paths)
	require.NoError(t, err)
	assert.Empty(t, s.UnknownKeys)
	cfg := FromSettings(paths, s)
	assert.Equal(t, 30*time.Second, cfg.Realtime.FlushInterval)
}

func TestLoadSettingsMergeAndUnknownKeys(t *testing.T) {
	paths := Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())
	writeSettings(t, paths, map[string]any{
		"version": SettingsVersion,
		"api":     map[string]any{"port": 9000, "mystery": true},
		"extra":   map[string]any{"nested": 1},
	})

	s, err := LoadSettings(paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.mystery", "extra"}, s.UnknownKeys)

	cfg := FromSettings(paths, s)
	assert.Equal(t, 9000, cfg.API.Port)
	// Defaults survive under partially overridden sections.
	assert.Equal(t, "127.0.0.1", cfg.API.Host)

	// Unknown keys are retained in the merged document.
	assert.Equal(t, true, s.Doc["api"].(map[string]any)["mystery"])

	raw, err := os.ReadFile(filepath.Join(paths.LogsDir(), "settings_unknown.json"))
	require.NoError(t, err)
	var recorded map[string]any
	require.NoError(t, json.Unmarshal(raw, &recorded))
	assert.Len(t, recorded["keys"], 2)
}

func TestMigrateV1ToCurrent(t *testing.T) {
	doc := map[string]any{
		"version": float64(1),
		"server":  map[string]any{"api_key": "legacy-key"},
		"jobs":    map[string]any{"enabled": false},
	}
	out, migrated, err := Migrate(doc)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, SettingsVersion, out["version"])
	assert.Equal(t, "legacy-key", out["api"].(map[string]any)["api_key"])
	_, hasJobs := out["jobs"]
	assert.False(t, hasJobs)
	assert.Equal(t, false, out["orchestrator"].(map[string]any)["enable"])
}

func TestMigrateRejectsNewerVersion(t *testing.T) {
	_, _, err := Migrate(map[string]any{"version": float64(SettingsVersion + 1)})
	require.Error(t, err)
}

func TestEnvOverridesAPIKey(t *testing.T) {
	paths := Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureLayout())
	t.Setenv("VIDEOCATALOG_API_KEY", "env-key")

	s, err := LoadSettings(paths)
	require.NoError(t, err)
	cfg := FromSettings(paths, s)
	assert.Equal(t, "env-key", cfg.API.APIKey)
}
