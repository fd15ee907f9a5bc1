// Package gatewayhandlers wires the HTTP/WebSocket surface to the
// upstream, session, and tools packages, grounded on
// original_source/src-c/gateway/handler_chat.c, handler_webhook.c,
// handler_health.c, and channel_webchat.c. Handlers are router.Handler
// values operating on router.Context/httpcodec.Response, so they can be
// registered directly with internal/router.
package gatewayhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/openclaw/gateway/internal/auth"
	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/httpcodec"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/session"
	"github.com/openclaw/gateway/internal/tools"
	"github.com/openclaw/gateway/internal/upstream"
)

const version = "0.1.0"

// Gateway holds every dependency a handler needs and the counters
// /health reports, mirroring gateway_ctx_t's total_requests/
// active_connections/start_time fields.
type Gateway struct {
	Cfg      *config.Config
	Sessions *session.Store
	Tools    *tools.Registry
	Upstream *upstream.Client

	startTime         time.Time
	totalRequests     atomic.Int64
	activeConnections atomic.Int64
}

// New builds a Gateway and registers its default tools.
func New(cfg *config.Config, store *session.Store) *Gateway {
	reg := tools.New()
	tools.RegisterDefaults(reg)

	return &Gateway{
		Cfg:       cfg,
		Sessions:  store,
		Tools:     reg,
		Upstream:  upstream.NewClient(),
		startTime: time.Now(),
	}
}

// ConnectionOpened/ConnectionClosed are called by the reactor as sockets
// come and go, feeding the /health active_connections gauge.
func (g *Gateway) ConnectionOpened() { g.activeConnections.Add(1) }
func (g *Gateway) ConnectionClosed() { g.activeConnections.Add(-1) }

// Register installs every gateway route on r. The /ws upgrade handshake
// itself is answered inline by the reactor (wscodec.BuildUpgradeResponse);
// once upgraded, decoded text frames reach HandleWSMessage directly via
// reactor.Hooks.OnWSMessage rather than through this router.
func (g *Gateway) Register(r *router.Router) {
	r.Handle(httpcodec.MethodGET, "/health", g.handleHealth)
	r.Handle(httpcodec.MethodPOST, "/hooks/webchat", g.handleWebchat)
	r.Handle(httpcodec.MethodPOST, "/v1/chat/completions", g.handleChatCompletions)
}

func jsonErr(code int, msg, errType string) *httpcodec.Response {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]string{"message": msg, "type": errType},
	})
	resp := httpcodec.NewResponse(code)
	resp.SetHeader("Content-Type", "application/json")
	resp.SetBody(body)
	return resp
}

func jsonOK(v any) *httpcodec.Response {
	body, _ := json.Marshal(v)
	resp := httpcodec.NewResponse(200)
	resp.SetHeader("Content-Type", "application/json")
	resp.SetBody(body)
	return resp
}

func (g *Gateway) countRequest() {
	g.totalRequests.Add(1)
}

// handleHealth mirrors handler_health.c.
func (g *Gateway) handleHealth(c *router.Context) *httpcodec.Response {
	g.countRequest()
	return jsonOK(map[string]any{
		"status":             "ok",
		"version":            version,
		"uptime_seconds":     int64(time.Since(g.startTime).Seconds()),
		"total_requests":     g.totalRequests.Load(),
		"active_connections": g.activeConnections.Load(),
	})
}

func (g *Gateway) resolveProviderAndModel(reqModel string) (config.Provider, string) {
	switch {
	case strings.HasPrefix(reqModel, "claude"):
		return config.ProviderAnthropic, reqModel
	case strings.HasPrefix(reqModel, "gpt"):
		return config.ProviderOpenAI, reqModel
	case reqModel != "":
		return g.Cfg.DefaultProvider, reqModel
	default:
		p := g.Cfg.DefaultProvider
		return p, g.Cfg.ModelFor(p)
	}
}

func providerURL(p config.Provider) string {
	if p == config.ProviderAnthropic {
		return upstream.AnthropicURL
	}
	return upstream.OpenAIURL
}

func toUpstreamProvider(p config.Provider) upstream.Provider {
	if p == config.ProviderAnthropic {
		return upstream.ProviderAnthropic
	}
	return upstream.ProviderOpenAI
}

// toolCallInfo is one complete tool_use block surfaced by the upstream
// stream: id/name plus the fully accumulated input_json_delta fragments.
type toolCallInfo struct {
	id, name, inputJSON string
}

// streamTurn issues one upstream streaming call and collects the
// assistant's full text, token usage, the terminal stop reason, and (for
// Anthropic) the last tool_use block the stream emitted, if any.
func (g *Gateway) streamTurn(ctx context.Context, provider config.Provider, apiKey string, body []byte) (text string, inTok, outTok int, stopReason string, tc *toolCallInfo, err error) {
	ctx, cancel := context.WithTimeout(ctx, upstream.DefaultTimeout)
	defer cancel()

	var sb strings.Builder
	var tool *toolCallInfo
	sctx := &upstream.StreamContext{
		Provider: toUpstreamProvider(provider),
		OnText:   func(s string) { sb.WriteString(s) },
		OnToolUse: func(id, name, inputJSON string) {
			tool = &toolCallInfo{id: id, name: name, inputJSON: inputJSON}
		},
	}

	if streamErr := g.Upstream.Stream(ctx, providerURL(provider), apiKey, body, sctx); streamErr != nil {
		return "", 0, 0, "", nil, streamErr
	}
	return sb.String(), sctx.InputTokens, sctx.OutputTokens, sctx.StopReason, tool, nil
}

// runChatTurn builds the request body, streams the upstream call, and
// collects the assistant's full text plus token usage — the Go
// equivalent of handler_chat.c's chat_collect_t callbacks. When the
// stream's terminal stop_reason is "tool_use", it runs the requested tool
// through g.Tools and re-issues the call with the result appended as a
// tool_result block, at most Cfg.MaxToolRounds times so a misbehaving
// model can't loop forever.
func (g *Gateway) runChatTurn(ctx context.Context, provider config.Provider, model, systemPrompt, userText string, maxTokens int, temperature float64) (text string, inTok, outTok int, err error) {
	apiKey := g.Cfg.ResolveAPIKey(provider)
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("no API key configured for %s", provider)
	}

	toolCatalog, _ := g.Tools.CatalogJSON()

	body, err := upstream.BuildBody(toUpstreamProvider(provider), upstream.ChatRequest{
		Model:       model,
		System:      systemPrompt,
		UserText:    userText,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Tools:       toolCatalog,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("build upstream request: %w", err)
	}

	text, inTok, outTok, stopReason, toolCall, err := g.streamTurn(ctx, provider, apiKey, body)
	if err != nil {
		return "", 0, 0, err
	}

	toolCtx := &tools.Context{WorkspaceDir: g.Cfg.WorkspaceDir}
	for round := 0; stopReason == "tool_use" && toolCall != nil && round < g.Cfg.MaxToolRounds; round++ {
		result := g.Tools.Execute(toolCtx, toolCall.name, toolCall.inputJSON)

		contBody, buildErr := upstream.BuildBody(toUpstreamProvider(provider), upstream.ChatRequest{
			Model:       model,
			System:      systemPrompt,
			UserText:    userText,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Tools:       toolCatalog,
			ToolResult: &upstream.ToolResult{
				ToolUseID: toolCall.id,
				ToolName:  toolCall.name,
				InputJSON: toolCall.inputJSON,
				Output:    result.Output,
				IsError:   result.IsError,
			},
		})
		if buildErr != nil {
			return text, inTok, outTok, fmt.Errorf("build tool continuation request: %w", buildErr)
		}

		text, inTok, outTok, stopReason, toolCall, err = g.streamTurn(ctx, provider, apiKey, contBody)
		if err != nil {
			return "", 0, 0, err
		}
	}

	return text, inTok, outTok, nil
}

// handleChatCompletions mirrors handler_chat.c, responding in the
// OpenAI chat.completion response shape regardless of which upstream
// provider actually served the request.
func (g *Gateway) handleChatCompletions(c *router.Context) *httpcodec.Response {
	g.countRequest()

	if !auth.CheckBearer(c.Request, g.Cfg.BearerToken) {
		return jsonErr(401, "Unauthorized", "auth_error")
	}

	if len(c.Request.Body) == 0 {
		return jsonErr(400, "Empty body", "invalid_request_error")
	}
	if !json.Valid(c.Request.Body) {
		return jsonErr(400, "Invalid JSON", "invalid_request_error")
	}

	parsed := gjson.ParseBytes(c.Request.Body)
	messages := parsed.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return jsonErr(400, "Missing messages array", "invalid_request_error")
	}

	var userMsg, systemMsg string
	for _, m := range messages.Array() {
		role := m.Get("role").String()
		content := m.Get("content").String()
		switch role {
		case "user":
			userMsg = content
		case "system":
			systemMsg = content
		}
	}
	if userMsg == "" {
		return jsonErr(400, "No user message found", "invalid_request_error")
	}
	if systemMsg == "" {
		systemMsg = g.Cfg.SystemPrompt
	}

	reqModel := parsed.Get("model").String()
	provider, model := g.resolveProviderAndModel(reqModel)

	maxTokens := int(parsed.Get("max_tokens").Int())
	if maxTokens == 0 {
		maxTokens = g.Cfg.MaxTokens
	}
	temperature := parsed.Get("temperature").Num
	if !parsed.Get("temperature").Exists() {
		temperature = g.Cfg.Temperature
	}

	if g.Cfg.ResolveAPIKey(provider) == "" {
		return jsonErr(500, "No API key configured", "server_error")
	}

	text, inTok, outTok, err := g.runChatTurn(context.Background(), provider, model, systemMsg, userMsg, maxTokens, temperature)
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("chat completion upstream call failed")
		return jsonErr(502, "AI API request failed", "server_error")
	}

	return jsonOK(map[string]any{
		"id":      "chatcmpl-" + uuid.New().String(),
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]string{
				"role":    "assistant",
				"content": text,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     inTok,
			"completion_tokens": outTok,
			"total_tokens":      inTok + outTok,
		},
	})
}

// handleWebchat mirrors handler_webhook.c, persisting both sides of the
// turn to the session store when a session_id is supplied or newly
// created, per channel_webchat.c's "actual AI call handled by the
// webhook handler" comment — this gateway folds that routing decision
// into one handler instead of a separate channel dispatch step.
func (g *Gateway) handleWebchat(c *router.Context) *httpcodec.Response {
	g.countRequest()

	if !auth.CheckBearer(c.Request, g.Cfg.BearerToken) {
		return jsonErr(401, "Unauthorized", "auth_error")
	}

	if len(c.Request.Body) == 0 {
		return jsonErr(400, "Empty body", "")
	}
	if !json.Valid(c.Request.Body) {
		return jsonErr(400, "Invalid JSON", "")
	}

	parsed := gjson.ParseBytes(c.Request.Body)
	message := parsed.Get("message").String()
	if strings.TrimSpace(message) == "" {
		return jsonErr(400, "Missing 'message' field", "")
	}

	ctx := context.Background()
	sessionID := parsed.Get("session_id").String()
	if sessionID == "" {
		id, err := g.Sessions.Create(ctx, "webchat")
		if err != nil {
			log.Error().Err(err).Msg("failed to create webchat session")
			return jsonErr(500, "Internal Server Error", "")
		}
		sessionID = id
	}

	if err := g.Sessions.AppendMessage(ctx, sessionID, "user", message); err != nil {
		log.Error().Err(err).Msg("failed to persist user message")
	}

	provider := g.Cfg.DefaultProvider
	model := g.Cfg.ModelFor(provider)

	text, _, _, err := g.runChatTurn(ctx, provider, model, g.Cfg.SystemPrompt, message, g.Cfg.MaxTokens, g.Cfg.Temperature)
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("webchat upstream call failed")
		return jsonErr(502, "AI API request failed", "")
	}

	if err := g.Sessions.AppendMessage(ctx, sessionID, "assistant", text); err != nil {
		log.Error().Err(err).Msg("failed to persist assistant message")
	}

	resp := map[string]any{
		"response":   text,
		"session_id": sessionID,
		"model":      model,
	}
	return jsonOK(resp)
}

// HandleWSMessage answers one decoded WebSocket text frame, wired as
// reactor.Hooks.OnWSMessage. It accepts either a bare chat message or a
// {"message":...,"session_id":...} envelope; anything else that isn't
// valid JSON is treated as a bare message too, so a literal non-JSON
// payload like "hi" still gets a reply instead of an error frame — there
// is no HTTP envelope here to reject it with one. When no API key is
// configured for the default provider it echoes the message back,
// matching channel_webchat.c's webchat_on_message stub before the real AI
// call was wired in.
func (g *Gateway) HandleWSMessage(text string) string {
	g.countRequest()

	ctx := context.Background()
	message := text
	sessionID := ""

	if json.Valid([]byte(text)) {
		parsed := gjson.ParseBytes([]byte(text))
		if m := parsed.Get("message"); m.Exists() {
			message = m.String()
			sessionID = parsed.Get("session_id").String()
		}
	}

	if strings.TrimSpace(message) == "" {
		return ""
	}

	if sessionID == "" {
		id, err := g.Sessions.Create(ctx, "websocket")
		if err != nil {
			log.Error().Err(err).Msg("failed to create websocket session")
		} else {
			sessionID = id
		}
	}
	if sessionID != "" {
		if err := g.Sessions.AppendMessage(ctx, sessionID, "user", message); err != nil {
			log.Error().Err(err).Msg("failed to persist websocket user message")
		}
	}

	provider := g.Cfg.DefaultProvider
	if g.Cfg.ResolveAPIKey(provider) == "" {
		if sessionID != "" {
			if err := g.Sessions.AppendMessage(ctx, sessionID, "assistant", message); err != nil {
				log.Error().Err(err).Msg("failed to persist websocket echo")
			}
		}
		return message
	}

	model := g.Cfg.ModelFor(provider)
	reply, _, _, err := g.runChatTurn(ctx, provider, model, g.Cfg.SystemPrompt, message, g.Cfg.MaxTokens, g.Cfg.Temperature)
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("websocket chat turn failed")
		return fmt.Sprintf("error: %v", err)
	}

	if sessionID != "" {
		if err := g.Sessions.AppendMessage(ctx, sessionID, "assistant", reply); err != nil {
			log.Error().Err(err).Msg("failed to persist websocket assistant message")
		}
	}
	return reply
}
