// SPDX-License-Identifier: MIT

// Package assistant gates an LLM behind GPU readiness and drives a
// read-only tool loop over the catalog.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/enrich"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
)

const (
	defaultToolBudget = 8
	// maxRounds caps model round-trips per ask regardless of budget.
	maxRounds      = 8
	historyLimit   = 20
	ragContextDocs = 5
)

const systemPrompt = `You are the VideoCatalog assistant. You answer questions about the user's
media collection using the provided tools. Tools are read-only; you can
never modify files or catalog entries. Answer concisely. If the tools do
not return what you need, say so instead of guessing.`

// GateProber is the slice of the GPU prober the gateway needs.
type GateProber interface {
	AssistantReady() (ok bool, reason string)
}

// aiMonitor records ask outcomes; realtime.Monitor satisfies it.
type aiMonitor interface {
	AIRequest(failed bool)
}

// AskRequest is one question against a session.
type AskRequest struct {
	SessionID   string          `json:"session_id,omitempty"`
	ItemID      string          `json:"item_id,omitempty"`
	ItemPayload json.RawMessage `json:"item_payload,omitempty"`
	Question    string          `json:"question"`
	ToolBudget  *int            `json:"tool_budget,omitempty"`
	UseRAG      *bool           `json:"use_rag,omitempty"`
}

// ToolLogEntry records one dispatched tool call.
type ToolLogEntry struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AskStatus mirrors the runtime state back to the caller.
type AskStatus struct {
	Runtime         string `json:"runtime"`
	Model           string `json:"model"`
	GPU             bool   `json:"gpu"`
	BudgetRemaining int    `json:"budget_remaining"`
}

// AskResponse is the gateway's answer envelope.
type AskResponse struct {
	SessionID string         `json:"session_id"`
	Answer    string         `json:"answer"`
	ToolLog   []ToolLogEntry `json:"tool_log"`
	Status    AskStatus      `json:"status"`
}

// GatewayStatus is the /assistant/status document.
type GatewayStatus struct {
	Enabled  bool   `json:"enabled"`
	GPUReady bool   `json:"gpu_ready"`
	Message  string `json:"message,omitempty"`
	Runtime  string `json:"runtime,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Gateway is the assistant front door. The LLM runtime attaches lazily on
// the first admitted ask; sessions serialize via per-session mutexes.
type Gateway struct {
	cfg        config.AssistantConfig
	ollamaHost string
	prober     GateProber
	tools      *toolset
	store      *catalog.Store
	searcher   catalog.Searcher
	sessions   *sessionStore
	monitor    aiMonitor
	logger     zerolog.Logger

	newModel func() (llms.Model, error)

	attachOnce sync.Once
	attachErr  error
	llm        llms.Model

	sessionMu sync.Map // session id -> *sync.Mutex
}

func NewGateway(cfg config.Config, prober GateProber, store *catalog.Store,
	searcher catalog.Searcher, tmdb *enrich.TMDBClient, monitor aiMonitor) (*Gateway, error) {
	sessions, err := openSessionStore(cfg.Paths.OrchestratorDBPath())
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		cfg:        cfg.Assistant,
		ollamaHost: cfg.OllamaHost,
		prober:     prober,
		tools:      newToolset(store, searcher, tmdb),
		store:      store,
		searcher:   searcher,
		sessions:   sessions,
		monitor:    monitor,
		logger:     log.WithComponent("assistant"),
	}
	g.newModel = g.attachOllama
	return g, nil
}

func (g *Gateway) Close() error { return g.sessions.Close() }

// Status reports the gate verdict without attaching the runtime.
func (g *Gateway) Status() GatewayStatus {
	gpuReady, reason := g.prober.AssistantReady()
	st := GatewayStatus{
		Enabled:  g.cfg.Enable && gpuReady,
		GPUReady: gpuReady,
		Runtime:  g.cfg.Runtime,
		Model:    g.cfg.Model,
	}
	switch {
	case !gpuReady:
		st.Message = reason
	case !g.cfg.Enable:
		st.Message = "assistant disabled in settings"
	}
	return st
}

// gate admits or rejects an ask with the user-visible reason.
func (g *Gateway) gate() error {
	if ok, reason := g.prober.AssistantReady(); !ok {
		return fault.New(fault.Gated, reason)
	}
	if !g.cfg.Enable {
		return fault.New(fault.Gated, "assistant disabled in settings")
	}
	return nil
}

func (g *Gateway) attachOllama() (llms.Model, error) {
	llm, err := ollama.New(ollama.WithServerURL(g.ollamaHost), ollama.WithModel(g.cfg.Model))
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "attach assistant runtime", err)
	}
	return llm, nil
}

// attach instantiates the runtime exactly once.
func (g *Gateway) attach() error {
	g.attachOnce.Do(func() {
		model, err := g.newModel()
		if err != nil {
			g.attachErr = err
			return
		}
		g.llm = model
		g.logger.Info().Str("runtime", g.cfg.Runtime).Str("model", g.cfg.Model).Msg("assistant runtime attached")
	})
	return g.attachErr
}

func (g *Gateway) lockSession(id string) func() {
	muAny, _ := g.sessionMu.LoadOrStore(id, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Ask runs one gated question through the tool loop.
func (g *Gateway) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	resp, err := g.ask(ctx, req)
	if g.monitor != nil {
		g.monitor.AIRequest(err != nil)
	}
	return resp, err
}

func (g *Gateway) ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fault.New(fault.Validation, "question is required")
	}
	if err := g.gate(); err != nil {
		return nil, err
	}
	if err := g.attach(); err != nil {
		return nil, err
	}

	ceiling := g.cfg.ToolBudget
	if ceiling <= 0 {
		ceiling = defaultToolBudget
	}
	sess, err := g.sessions.getOrCreate(ctx, req.SessionID, g.cfg.Model, ceiling)
	if err != nil {
		return nil, err
	}
	unlock := g.lockSession(sess.ID)
	defer unlock()

	// Per-call override may narrow, never widen, the session's remainder.
	budget := sess.BudgetRemaining
	if req.ToolBudget != nil && *req.ToolBudget >= 0 && *req.ToolBudget < budget {
		budget = *req.ToolBudget
	}

	messages, err := g.buildMessages(ctx, sess.ID, req)
	if err != nil {
		return nil, err
	}

	answer, toolLog, used, err := g.toolLoop(ctx, messages, budget)
	if err != nil {
		return nil, err
	}

	if err := g.sessions.appendMessage(ctx, sess.ID, "user", req.Question); err != nil {
		return nil, err
	}
	if err := g.sessions.appendMessage(ctx, sess.ID, "assistant", answer); err != nil {
		return nil, err
	}
	remaining := sess.BudgetRemaining - used
	if remaining < 0 {
		remaining = 0
	}
	if err := g.sessions.setBudget(ctx, sess.ID, remaining); err != nil {
		return nil, err
	}

	gpuReady, _ := g.prober.AssistantReady()
	return &AskResponse{
		SessionID: sess.ID,
		Answer:    answer,
		ToolLog:   toolLog,
		Status: AskStatus{
			Runtime:         g.cfg.Runtime,
			Model:           g.cfg.Model,
			GPU:             gpuReady,
			BudgetRemaining: remaining,
		},
	}, nil
}

// buildMessages assembles system prompt, optional retrieved context, prior
// history, and the question itself.
func (g *Gateway) buildMessages(ctx context.Context, sessionID string, req AskRequest) ([]llms.MessageContent, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
	}

	useRAG := req.UseRAG == nil || *req.UseRAG
	if useRAG && g.cfg.RAG.Enable && g.searcher != nil && g.searcher.Ready() {
		k := g.cfg.RAG.TopK
		if k <= 0 {
			k = ragContextDocs
		}
		hits, err := g.store.SemanticSearch(ctx, g.searcher, req.Question, catalog.ModeHybrid, k)
		if err == nil && len(hits) > 0 {
			var b strings.Builder
			b.WriteString("Catalog context that may be relevant:\n")
			for _, h := range hits {
				if g.cfg.RAG.MinScore > 0 && h.Score < g.cfg.RAG.MinScore {
					continue
				}
				fmt.Fprintf(&b, "- [%s] %s\n", h.DocID, h.Text)
			}
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, b.String()))
		}
	}

	history, err := g.sessions.history(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}

	question := req.Question
	if req.ItemID != "" {
		question = fmt.Sprintf("About catalog item %s:\n%s", req.ItemID, question)
	}
	if len(req.ItemPayload) > 0 {
		question += "\n\nItem details:\n" + string(req.ItemPayload)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
	return messages, nil
}

// toolLoop drives generate/dispatch rounds until the model stops calling
// tools, the budget runs out, or the hard round cap is hit. With the budget
// exhausted the model is asked once more, without tools, to synthesize an
// answer from what it has.
func (g *Gateway) toolLoop(ctx context.Context, messages []llms.MessageContent, budget int) (string, []ToolLogEntry, int, error) {
	toolLog := []ToolLogEntry{}
	used := 0

	for round := 0; round < maxRounds; round++ {
		opts := []llms.CallOption{llms.WithTemperature(g.cfg.Temperature)}
		if g.cfg.ToolsEnabled && used < budget {
			opts = append(opts, llms.WithTools(g.tools.defs()))
		}
		resp, err := g.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", toolLog, used, fault.Wrap(fault.Unavailable, "assistant generation", err)
		}
		if len(resp.Choices) == 0 {
			return "", toolLog, used, fault.New(fault.Unavailable, "assistant returned no choices")
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 || !g.cfg.ToolsEnabled {
			return choice.Content, toolLog, used, nil
		}

		assistantParts := make([]llms.ContentPart, 0, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: assistantParts})

		for _, tc := range choice.ToolCalls {
			entry := ToolLogEntry{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
			var content string
			if used >= budget {
				content = "tool budget exhausted"
				entry.Error = content
			} else {
				used++
				result, err := g.tools.dispatch(ctx, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
				if err != nil {
					content = "tool error: " + fault.MessageOf(err)
					entry.Error = fault.MessageOf(err)
				} else {
					content = result
					entry.Result = result
				}
			}
			toolLog = append(toolLog, entry)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    content,
				}},
			})
		}
	}

	// Hard cap reached: one final call without tools.
	resp, err := g.llm.GenerateContent(ctx, messages, llms.WithTemperature(g.cfg.Temperature))
	if err != nil {
		return "", toolLog, used, fault.Wrap(fault.Unavailable, "assistant generation", err)
	}
	if len(resp.Choices) == 0 {
		return "", toolLog, used, fault.New(fault.Unavailable, "assistant returned no choices")
	}
	return resp.Choices[0].Content, toolLog, used, nil
}
