// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strings"
	"time"
)

// GPUPolicy controls whether GPU-backed features may run.
type GPUPolicy string

const (
	GPUAuto     GPUPolicy = "AUTO"
	GPUCPUOnly  GPUPolicy = "CPU_ONLY"
	GPUForceGPU GPUPolicy = "FORCE_GPU"
)

// Config is the immutable typed configuration handed to components.
type Config struct {
	Paths Paths

	API          APIConfig
	Server       ServerConfig
	Realtime     RealtimeConfig
	Orchestrator OrchestratorConfig
	Assistant    AssistantConfig
	GPU          GPUConfig
	Diagnostics  DiagnosticsConfig

	// Env-sourced credentials for external services.
	TMDBAPIKey          string
	OpenSubtitlesAPIKey string
	OllamaHost          string
}

type APIConfig struct {
	Host            string
	Port            int
	APIKey          string
	CORSOrigins     []string
	DefaultLimit    int
	MaxPageSize     int
	VectorInlineDim int
}

type ServerConfig struct {
	Host    string
	LANOnly bool
}

type RealtimeConfig struct {
	FlushInterval time.Duration
}

type OrchestratorConfig struct {
	Enable       bool
	PollInterval time.Duration
	Concurrency  map[string]int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	LeaseTTL     time.Duration
	Heartbeat    time.Duration
	GPUHardReq   bool
	GPUSafetyMB  int
}

type AssistantRAGConfig struct {
	Enable         bool
	TopK           int
	MinScore       float64
	EmbedModel     string
	Index          string
	RefreshOnStart bool
}

type AssistantConfig struct {
	Enable       bool
	Runtime      string
	Model        string
	Ctx          int
	Temperature  float64
	ToolsEnabled bool
	ToolBudget   int
	RAG          AssistantRAGConfig
}

type GPUConfig struct {
	Policy            GPUPolicy
	AllowHWAccelVideo bool
	MinFreeVRAMMB     int
	MaxGPUWorkers     int
}

type DiagnosticsConfig struct {
	Enable        bool
	GPUHardReq    bool
	SmokeTimeouts map[string]time.Duration
	SampleSizes   map[string]int
	LogsKeepDays  int
}

// FromSettings materialises the typed Config from a merged document,
// applying environment overrides last.
func FromSettings(paths Paths, s *Settings) Config {
	doc := s.Doc
	cfg := Config{
		Paths: paths,
		API: APIConfig{
			Host:            str(doc, "api", "host"),
			Port:            num(doc, "api", "port"),
			APIKey:          str(doc, "api", "api_key"),
			CORSOrigins:     strs(doc, "api", "cors_origins"),
			DefaultLimit:    num(doc, "api", "default_limit"),
			MaxPageSize:     num(doc, "api", "max_page_size"),
			VectorInlineDim: num(doc, "api", "vector_inline_dim"),
		},
		Server: ServerConfig{
			Host:    str(doc, "server", "host"),
			LANOnly: boolean(doc, "server", "lan_refuse"),
		},
		Realtime: RealtimeConfig{
			FlushInterval: time.Duration(num(doc, "realtime", "flush_interval_s")) * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			Enable:       boolean(doc, "orchestrator", "enable"),
			PollInterval: time.Duration(num(doc, "orchestrator", "poll_ms")) * time.Millisecond,
			Concurrency: map[string]int{
				"heavy_ai_gpu": num(doc, "orchestrator", "concurrency", "heavy_ai_gpu"),
				"light_cpu":    num(doc, "orchestrator", "concurrency", "light_cpu"),
				"io_light":     num(doc, "orchestrator", "concurrency", "io_light"),
			},
			BackoffBase: time.Duration(num(doc, "orchestrator", "backoff", "base_s")) * time.Second,
			BackoffMax:  time.Duration(num(doc, "orchestrator", "backoff", "max_s")) * time.Second,
			LeaseTTL:    time.Duration(num(doc, "orchestrator", "lease_ttl_s")) * time.Second,
			Heartbeat:   time.Duration(num(doc, "orchestrator", "heartbeat_s")) * time.Second,
			GPUHardReq:  boolean(doc, "orchestrator", "gpu", "hard_requirement"),
			GPUSafetyMB: num(doc, "orchestrator", "gpu", "safety_margin_mb"),
		},
		Assistant: AssistantConfig{
			Enable:       boolean(doc, "assistant", "enable"),
			Runtime:      str(doc, "assistant", "runtime"),
			Model:        str(doc, "assistant", "model"),
			Ctx:          num(doc, "assistant", "ctx"),
			Temperature:  flt(doc, "assistant", "temperature"),
			ToolsEnabled: boolean(doc, "assistant", "tools_enabled"),
			ToolBudget:   num(doc, "assistant", "tool_budget"),
			RAG: AssistantRAGConfig{
				Enable:         boolean(doc, "assistant", "rag", "enable"),
				TopK:           num(doc, "assistant", "rag", "top_k"),
				MinScore:       flt(doc, "assistant", "rag", "min_score"),
				EmbedModel:     str(doc, "assistant", "rag", "embed_model"),
				Index:          str(doc, "assistant", "rag", "index"),
				RefreshOnStart: boolean(doc, "assistant", "rag", "refresh_on_start"),
			},
		},
		GPU: GPUConfig{
			Policy:            parsePolicy(str(doc, "gpu", "policy")),
			AllowHWAccelVideo: boolean(doc, "gpu", "allow_hwaccel_video"),
			MinFreeVRAMMB:     num(doc, "gpu", "min_free_vram_mb"),
			MaxGPUWorkers:     num(doc, "gpu", "max_gpu_workers"),
		},
		Diagnostics: DiagnosticsConfig{
			Enable:        boolean(doc, "diagnostics", "enable"),
			GPUHardReq:    boolean(doc, "diagnostics", "gpu_hard_requirement"),
			LogsKeepDays:  num(doc, "diagnostics", "logs_keep_days"),
			SmokeTimeouts: durations(doc, "diagnostics", "smoke_timeouts_s"),
			SampleSizes:   nums(doc, "diagnostics", "sample_sizes"),
		},
		TMDBAPIKey:          os.Getenv("TMDB_API_KEY"),
		OpenSubtitlesAPIKey: os.Getenv("OPENSUBTITLES_API_KEY"),
		OllamaHost:          os.Getenv("OLLAMA_HOST"),
	}

	if key := strings.TrimSpace(os.Getenv("VIDEOCATALOG_API_KEY")); key != "" {
		cfg.API.APIKey = key
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://127.0.0.1:11434"
	}
	return cfg
}

func parsePolicy(raw string) GPUPolicy {
	switch GPUPolicy(strings.ToUpper(strings.TrimSpace(raw))) {
	case GPUCPUOnly:
		return GPUCPUOnly
	case GPUForceGPU:
		return GPUForceGPU
	default:
		return GPUAuto
	}
}

// navigate walks nested maps; returns nil when the path is absent.
func navigate(doc map[string]any, path ...string) any {
	cur := any(doc)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func str(doc map[string]any, path ...string) string {
	if v, ok := navigate(doc, path...).(string); ok {
		return v
	}
	return ""
}

func num(doc map[string]any, path ...string) int {
	switch v := navigate(doc, path...).(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func flt(doc map[string]any, path ...string) float64 {
	switch v := navigate(doc, path...).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func boolean(doc map[string]any, path ...string) bool {
	if v, ok := navigate(doc, path...).(bool); ok {
		return v
	}
	return false
}

func strs(doc map[string]any, path ...string) []string {
	raw, ok := navigate(doc, path...).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func nums(doc map[string]any, path ...string) map[string]int {
	raw, ok := navigate(doc, path...).(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = int(f)
		} else if i, ok := v.(int); ok {
			out[k] = i
		}
	}
	return out
}

func durations(doc map[string]any, path ...string) map[string]time.Duration {
	src := nums(doc, path...)
	if src == nil {
		return nil
	}
	out := make(map[string]time.Duration, len(src))
	for k, v := range src {
		out[k] = time.Duration(v) * time.Second
	}
	return out
}
