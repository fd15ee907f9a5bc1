package gatewayhandlers

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/httpcodec"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/session"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	dir := t.TempDir()
	store, err := session.Open(filepath.Join(dir, "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		DefaultProvider: config.ProviderAnthropic,
		AnthropicModel:  "claude-3-5-sonnet-20241022",
		AnthropicAPIKey: "test-key",
		SystemPrompt:    "be terse",
		MaxTokens:       512,
		Temperature:     0.5,
	}

	return New(cfg, store)
}

func TestHandleHealthReportsCounters(t *testing.T) {
	g := newTestGateway(t)
	resp := g.handleHealth(&router.Context{Request: &httpcodec.Request{}})
	require.Equal(t, 200, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	require.Equal(t, "ok", body["status"])
}

func TestHandleWebchatMissingMessage(t *testing.T) {
	g := newTestGateway(t)
	req := &httpcodec.Request{Body: []byte(`{}`)}
	resp := g.handleWebchat(&router.Context{Request: req})
	require.Equal(t, 400, resp.Code)
}

func TestHandleWebchatEmptyBody(t *testing.T) {
	g := newTestGateway(t)
	resp := g.handleWebchat(&router.Context{Request: &httpcodec.Request{}})
	require.Equal(t, 400, resp.Code)
}

func TestHandleChatCompletionsRequiresUserMessage(t *testing.T) {
	g := newTestGateway(t)
	req := &httpcodec.Request{Body: []byte(`{"messages":[{"role":"system","content":"x"}]}`)}
	resp := g.handleChatCompletions(&router.Context{Request: req})
	require.Equal(t, 400, resp.Code)
}

func TestHandleChatCompletionsRejectsUnauthorized(t *testing.T) {
	g := newTestGateway(t)
	g.Cfg.BearerToken = "secret"
	req := &httpcodec.Request{Body: []byte(`{"messages":[{"role":"user","content":"hi"}]}`)}
	resp := g.handleChatCompletions(&router.Context{Request: req})
	require.Equal(t, 401, resp.Code)
}

func TestHandleWSMessageEchoesWithoutAPIKey(t *testing.T) {
	g := newTestGateway(t)
	g.Cfg.AnthropicAPIKey = ""

	reply := g.HandleWSMessage("hi")
	require.Equal(t, "hi", reply)
}

func TestHandleWSMessageEchoesEnvelopeWithoutAPIKey(t *testing.T) {
	g := newTestGateway(t)
	g.Cfg.AnthropicAPIKey = ""

	reply := g.HandleWSMessage(`{"message":"hello there","session_id":""}`)
	require.Equal(t, "hello there", reply)
}

func TestHandleWSMessageIgnoresBlank(t *testing.T) {
	g := newTestGateway(t)
	g.Cfg.AnthropicAPIKey = ""

	require.Equal(t, "", g.HandleWSMessage("   "))
}

func TestResolveProviderAndModel(t *testing.T) {
	g := newTestGateway(t)

	p, m := g.resolveProviderAndModel("claude-x")
	require.Equal(t, config.ProviderAnthropic, p)
	require.Equal(t, "claude-x", m)

	p2, m2 := g.resolveProviderAndModel("gpt-x")
	require.Equal(t, config.ProviderOpenAI, p2)
	require.Equal(t, "gpt-x", m2)

	p3, m3 := g.resolveProviderAndModel("")
	require.Equal(t, config.ProviderAnthropic, p3)
	require.Equal(t, g.Cfg.AnthropicModel, m3)
}
