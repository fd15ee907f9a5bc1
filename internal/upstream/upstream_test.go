package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
)

func TestBuildAnthropicBodyShape(t *testing.T) {
	body, err := BuildBody(ProviderAnthropic, ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		System:   "be terse",
		UserText: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gjson.GetBytes(body, "stream").Bool() {
		t.Fatal("expected stream:true")
	}
	if gjson.GetBytes(body, "messages.0.role").String() != "user" {
		t.Fatalf("expected first message role user, got %s", gjson.GetBytes(body, "messages.0.role").String())
	}
	if gjson.GetBytes(body, "system").String() != "be terse" {
		t.Fatal("expected system field set")
	}
}

func TestBuildOpenAIBodyShape(t *testing.T) {
	body, err := BuildBody(ProviderOpenAI, ChatRequest{
		Model:    "gpt-4o",
		System:   "be terse",
		UserText: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gjson.GetBytes(body, "messages.0.role").String() != "system" {
		t.Fatal("expected system message first for openai dialect")
	}
	if gjson.GetBytes(body, "messages.1.role").String() != "user" {
		t.Fatal("expected user message second")
	}
}

func TestStreamAnthropicHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte("event: message_stop\ndata: {}\n\n"))
	}))
	defer srv.Close()

	var gotText string
	var gotDone bool
	sctx := &StreamContext{
		Provider: ProviderAnthropic,
		OnText:   func(s string) { gotText += s },
		OnDone:   func(in, out int) { gotDone = true },
	}

	c := NewClient()
	body, _ := BuildBody(ProviderAnthropic, ChatRequest{Model: "claude-3-5-sonnet-20241022", UserText: "hi"})
	if err := c.Stream(context.Background(), srv.URL, "test-key", body, sctx); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if gotText != "hi" {
		t.Fatalf("expected text 'hi', got %q", gotText)
	}
	if !gotDone {
		t.Fatal("expected OnDone to fire")
	}
}

func TestStreamAnthropicToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		w.Write([]byte("event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"bash\"}}\n\n"))
		w.Write([]byte("event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"command\\\":\\\"ls\\\"}\"}}\n\n"))
		w.Write([]byte("event: content_block_stop\ndata: {\"index\":0}\n\n"))
		w.Write([]byte("event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":4}}\n\n"))
		w.Write([]byte("event: message_stop\ndata: {}\n\n"))
	}))
	defer srv.Close()

	var gotID, gotName, gotInput string
	sctx := &StreamContext{
		Provider:  ProviderAnthropic,
		OnToolUse: func(id, name, inputJSON string) { gotID, gotName, gotInput = id, name, inputJSON },
	}

	c := NewClient()
	body, _ := BuildBody(ProviderAnthropic, ChatRequest{Model: "claude-3-5-sonnet-20241022", UserText: "list files"})
	if err := c.Stream(context.Background(), srv.URL, "test-key", body, sctx); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if gotID != "toolu_1" || gotName != "bash" {
		t.Fatalf("unexpected tool use: id=%q name=%q", gotID, gotName)
	}
	if gotInput != `{"command":"ls"}` {
		t.Fatalf("unexpected accumulated input json: %q", gotInput)
	}
	if sctx.StopReason != "tool_use" {
		t.Fatalf("expected stop reason tool_use, got %q", sctx.StopReason)
	}
}

func TestBuildAnthropicBodyWithToolResult(t *testing.T) {
	body, err := BuildBody(ProviderAnthropic, ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		UserText: "list files",
		ToolResult: &ToolResult{
			ToolUseID: "toolu_1",
			ToolName:  "bash",
			InputJSON: `{"command":"ls"}`,
			Output:    "a.txt\nb.txt",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gjson.GetBytes(body, "messages.1.role").String() != "assistant" {
		t.Fatal("expected assistant tool_use message second")
	}
	if gjson.GetBytes(body, "messages.1.content.0.id").String() != "toolu_1" {
		t.Fatal("expected tool_use id preserved")
	}
	if gjson.GetBytes(body, "messages.2.role").String() != "user" {
		t.Fatal("expected tool_result message third")
	}
	if gjson.GetBytes(body, "messages.2.content.0.tool_use_id").String() != "toolu_1" {
		t.Fatal("expected tool_result.tool_use_id to match")
	}
	if gjson.GetBytes(body, "messages.2.content.0.content").String() != "a.txt\nb.txt" {
		t.Fatal("expected tool_result content to carry tool output")
	}
}

func TestStreamNon2xxReturnsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	var gotErr error
	sctx := &StreamContext{Provider: ProviderAnthropic, OnError: func(e error) { gotErr = e }}
	c := NewClient()
	err := c.Stream(context.Background(), srv.URL, "bad-key", []byte("{}"), sctx)
	if err == nil {
		t.Fatal("expected error")
	}
	uerr, ok := err.(*Error)
	if !ok || uerr.StatusCode != 401 {
		t.Fatalf("expected *Error with status 401, got %#v", err)
	}
	if gotErr == nil {
		t.Fatal("expected OnError callback to fire")
	}
}
