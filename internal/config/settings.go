// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"

	"github.com/videocatalog/videocatalog/internal/log"
)

// SettingsVersion is the current settings schema version.
const SettingsVersion = 3

// Defaults returns the built-in default settings tree. Callers receive a
// fresh copy and may mutate it.
func Defaults() map[string]any {
	return map[string]any{
		"version": SettingsVersion,
		"api": map[string]any{
			"host":              "127.0.0.1",
			"port":              8774,
			"api_key":           "",
			"cors_origins":      []any{},
			"default_limit":     100,
			"max_page_size":     500,
			"vector_inline_dim": 2048,
		},
		"server": map[string]any{
			"host":       "127.0.0.1",
			"lan_refuse": true,
		},
		"realtime": map[string]any{
			"flush_interval_s": 10,
		},
		"orchestrator": map[string]any{
			"enable":  true,
			"poll_ms": 500,
			"concurrency": map[string]any{
				"heavy_ai_gpu": 1,
				"light_cpu":    2,
				"io_light":     2,
			},
			"backoff": map[string]any{
				"base_s": 5,
				"max_s":  300,
			},
			"lease_ttl_s": 120,
			"heartbeat_s": 5,
			"gpu": map[string]any{
				"hard_requirement": false,
				"safety_margin_mb": 1024,
			},
		},
		"assistant": map[string]any{
			"enable":        false,
			"runtime":       "ollama",
			"model":         "qwen2.5:7b-instruct",
			"ctx":           8192,
			"temperature":   0.2,
			"tools_enabled": true,
			"tool_budget":   8,
			"rag": map[string]any{
				"enable":           true,
				"top_k":            6,
				"min_score":        0.25,
				"embed_model":      "nomic-embed-text",
				"index":            "catalog",
				"refresh_on_start": false,
			},
		},
		"gpu": map[string]any{
			"policy":              "AUTO",
			"allow_hwaccel_video": true,
			"min_free_vram_mb":    1024,
			"max_gpu_workers":     1,
		},
		"diagnostics": map[string]any{
			"enable":               true,
			"gpu_hard_requirement": false,
			"smoke_timeouts_s":     map[string]any{"default": 10, "gpu": 30},
			"sample_sizes":         map[string]any{"inventory": 50, "textlite": 10},
			"logs_keep_days":       14,
		},
	}
}

// Settings is the merged settings document plus its load diagnostics.
type Settings struct {
	Doc         map[string]any
	UnknownKeys []string
	Migrated    bool
}

// LoadSettings reads settings.json under paths, deep-merges it over the
// defaults and runs schema migrations. A missing file yields pure defaults.
// Unknown keys are retained in the document and recorded to
// logs/settings_unknown.json.
func LoadSettings(paths Paths) (*Settings, error) {
	doc := Defaults()
	s := &Settings{Doc: doc}

	raw, err := os.ReadFile(paths.SettingsPath())
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var loaded map[string]any
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	loaded, migrated, err := Migrate(loaded)
	if err != nil {
		return nil, err
	}
	s.Migrated = migrated

	unknown := mergeTree(doc, loaded, "")
	sort.Strings(unknown)
	s.UnknownKeys = unknown
	if len(unknown) > 0 {
		writeUnknownKeys(paths, unknown)
	}
	return s, nil
}

// mergeTree deep-merges src into dst and returns the dotted paths of keys not
// present in the default tree. Unknown keys are still merged so round-trips
// preserve them.
func mergeTree(dst, src map[string]any, prefix string) []string {
	var unknown []string
	for key, val := range src {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		existing, known := dst[key]
		if !known {
			unknown = append(unknown, path)
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := existing.(map[string]any)
		srcMap, srcIsMap := val.(map[string]any)
		if dstIsMap && srcIsMap {
			unknown = append(unknown, mergeTree(dstMap, srcMap, path)...)
			continue
		}
		dst[key] = val
	}
	return unknown
}

func writeUnknownKeys(paths Paths, unknown []string) {
	payload, err := json.MarshalIndent(map[string]any{
		"ts_utc": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		"keys":   unknown,
	}, "", "  ")
	if err != nil {
		return
	}
	out := filepath.Join(paths.LogsDir(), "settings_unknown.json")
	if err := renameio.WriteFile(out, payload, 0o644); err != nil {
		logger := log.WithComponent("config")
		logger.Warn().Err(err).Msg("failed to record unknown settings keys")
	}
}

// Save persists the document atomically.
func Save(paths Paths, doc map[string]any) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(paths.SettingsPath(), payload, 0o644)
}
