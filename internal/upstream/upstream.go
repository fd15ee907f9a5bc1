// Package upstream performs the streaming POST to an AI provider and
// re-emits normalized events through a StreamContext, grounded on
// original_source/src-c/gateway/handler_chat.c's stream_ctx_t callback
// shape and spec.md §4.5. Request bodies are assembled with
// tidwall/sjson instead of full request structs, mirroring the C
// original's json_build_anthropic_request/json_build_openai_request
// helpers that build ad hoc.
package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/openclaw/gateway/internal/sse"
)

const (
	AnthropicURL = "https://api.anthropic.com/v1/messages"
	OpenAIURL    = "https://api.openai.com/v1/chat/completions"

	anthropicVersion = "2023-06-01"
)

// Provider identifies which upstream dialect a request targets.
type Provider int

const (
	ProviderAnthropic Provider = iota
	ProviderOpenAI
)

// StreamContext carries the callbacks and running counters for one upstream
// request, mirroring stream_ctx_t. Zero value is ready to use; callbacks may
// be nil.
type StreamContext struct {
	Provider Provider

	OnText func(text string)
	OnDone func(inputTokens, outputTokens int)

	// OnToolUse fires once per complete tool call, after its id, name,
	// and all input_json_delta fragments have been accumulated and the
	// block's content_block_stop event arrives.
	OnToolUse func(id, name, inputJSON string)

	OnError func(err error)

	InputTokens  int
	OutputTokens int

	// StopReason is Anthropic's final delta.stop_reason (e.g. "tool_use",
	// "end_turn"); empty for OpenAI streams, which don't report one here.
	StopReason string

	buf       []byte
	toolCalls map[int]*pendingToolCall
}

// pendingToolCall accumulates one streamed tool_use content block's
// id/name and input_json_delta fragments until content_block_stop closes
// its index.
type pendingToolCall struct {
	id, name string
	input    strings.Builder
}

// Client performs provider POSTs over TLS and drives SSE parsing.
type Client struct {
	HTTP *http.Client
}

// NewClient builds a Client with sane streaming defaults: no overall
// timeout (upstream calls can legitimately run long while tokens stream),
// TLS >= 1.2 via the standard library default transport.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{}}
}

// ChatRequest is the dialect-agnostic input to a chat turn.
type ChatRequest struct {
	Model       string
	System      string
	UserText    string
	MaxTokens   int
	Temperature float64
	Tools       []byte // pre-rendered provider-shaped tool catalog JSON, or nil

	// ToolResult, when set, turns this into a one-shot tool-use
	// continuation: the assistant's prior tool_use block plus our
	// tool_result are appended to the message list before re-issuing the
	// call, per Anthropic's multi-turn tool-use shape. Anthropic only —
	// OpenAI's function-calling dialect isn't wired (SSE tool-use
	// detection only emits for Anthropic streams).
	ToolResult *ToolResult
}

// ToolResult is the prior tool call plus its output, fed back to the
// model on the continuation request.
type ToolResult struct {
	ToolUseID string
	ToolName  string
	InputJSON string
	Output    string
	IsError   bool
}

// BuildBody renders the provider-specific streaming request JSON.
func BuildBody(provider Provider, req ChatRequest) ([]byte, error) {
	if provider == ProviderAnthropic {
		return buildAnthropicBody(req)
	}
	return buildOpenAIBody(req)
}

func buildAnthropicBody(req ChatRequest) ([]byte, error) {
	body := []byte("{}")
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetBytes(body, "max_tokens", orDefault(req.MaxTokens, 1024))
	body, _ = sjson.SetBytes(body, "temperature", req.Temperature)
	body, _ = sjson.SetBytes(body, "stream", true)
	if req.System != "" {
		body, _ = sjson.SetBytes(body, "system", req.System)
	}
	body, _ = sjson.SetBytes(body, "messages.0.role", "user")
	body, _ = sjson.SetBytes(body, "messages.0.content", req.UserText)
	if len(req.Tools) > 0 {
		body, _ = sjson.SetRawBytes(body, "tools", req.Tools)
	}

	if req.ToolResult != nil {
		tr := req.ToolResult
		body, _ = sjson.SetBytes(body, "messages.1.role", "assistant")
		body, _ = sjson.SetBytes(body, "messages.1.content.0.type", "tool_use")
		body, _ = sjson.SetBytes(body, "messages.1.content.0.id", tr.ToolUseID)
		body, _ = sjson.SetBytes(body, "messages.1.content.0.name", tr.ToolName)
		var inputRaw []byte = []byte(tr.InputJSON)
		if len(inputRaw) == 0 {
			inputRaw = []byte("{}")
		}
		body, _ = sjson.SetRawBytes(body, "messages.1.content.0.input", inputRaw)

		body, _ = sjson.SetBytes(body, "messages.2.role", "user")
		body, _ = sjson.SetBytes(body, "messages.2.content.0.type", "tool_result")
		body, _ = sjson.SetBytes(body, "messages.2.content.0.tool_use_id", tr.ToolUseID)
		body, _ = sjson.SetBytes(body, "messages.2.content.0.content", tr.Output)
		if tr.IsError {
			body, _ = sjson.SetBytes(body, "messages.2.content.0.is_error", true)
		}
	}
	return body, nil
}

func buildOpenAIBody(req ChatRequest) ([]byte, error) {
	body := []byte("{}")
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetBytes(body, "max_tokens", orDefault(req.MaxTokens, 1024))
	body, _ = sjson.SetBytes(body, "temperature", req.Temperature)
	body, _ = sjson.SetBytes(body, "stream", true)
	idx := 0
	if req.System != "" {
		body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.role", idx), "system")
		body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.content", idx), req.System)
		idx++
	}
	body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.role", idx), "user")
	body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.content", idx), req.UserText)
	return body, nil
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// Error wraps a non-2xx upstream response or a broken stream; the handler
// layer maps this to a 502 per spec.md §7.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream: %s", e.Body)
}

// Stream issues the POST and drives sctx's callbacks until the stream ends,
// an upstream error event arrives, or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, url, apiKey string, body []byte, sctx *StreamContext) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}

	switch sctx.Provider {
	case ProviderAnthropic:
		httpReq.Header.Set("x-api-key", apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		httpReq.Header.Set("content-type", "application/json")
	case ProviderOpenAI:
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		uerr := &Error{Body: err.Error()}
		if sctx.OnError != nil {
			sctx.OnError(uerr)
		}
		return uerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		uerr := &Error{StatusCode: resp.StatusCode, Body: string(limited)}
		if sctx.OnError != nil {
			sctx.OnError(uerr)
		}
		return uerr
	}

	dialect := sse.DialectAnthropic
	if sctx.Provider == ProviderOpenAI {
		dialect = sse.DialectOpenAI
	}

	reader := bufio.NewReaderSize(resp.Body, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			sctx.buf = append(sctx.buf, chunk[:n]...)
			events, consumed := sse.Parse(dialect, sctx.buf)
			sctx.buf = sctx.buf[consumed:]

			for _, ev := range events {
				switch ev.Kind {
				case sse.EventText:
					if sctx.OnText != nil {
						sctx.OnText(ev.Text)
					}
				case sse.EventUsage:
					sctx.InputTokens = ev.InputTokens
					sctx.OutputTokens = ev.OutputTokens
					if ev.StopReason != "" {
						sctx.StopReason = ev.StopReason
					}
				case sse.EventToolUse:
					if sctx.toolCalls == nil {
						sctx.toolCalls = make(map[int]*pendingToolCall)
					}
					sctx.toolCalls[ev.Index] = &pendingToolCall{id: ev.ToolUseID, name: ev.ToolName}
				case sse.EventToolInputDelta:
					if pc := sctx.toolCalls[ev.Index]; pc != nil {
						pc.input.WriteString(ev.Text)
					}
				case sse.EventBlockStop:
					if pc := sctx.toolCalls[ev.Index]; pc != nil {
						inputJSON := pc.input.String()
						if inputJSON == "" {
							inputJSON = "{}"
						}
						if sctx.OnToolUse != nil {
							sctx.OnToolUse(pc.id, pc.name, inputJSON)
						}
						delete(sctx.toolCalls, ev.Index)
					}
				case sse.EventDone:
					if sctx.OnDone != nil {
						sctx.OnDone(sctx.InputTokens, sctx.OutputTokens)
					}
					return nil
				case sse.EventError:
					uerr := &Error{Body: ev.ErrMessage}
					if sctx.OnError != nil {
						sctx.OnError(uerr)
					}
					return uerr
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				if sctx.OnDone != nil {
					sctx.OnDone(sctx.InputTokens, sctx.OutputTokens)
				}
				return nil
			}
			uerr := &Error{Body: readErr.Error()}
			if sctx.OnError != nil {
				sctx.OnError(uerr)
			}
			return uerr
		}
	}
}

// DefaultTimeout bounds a single upstream call when the caller wants one;
// the gateway's worker-pool tasks use this via context.WithTimeout so a
// stalled upstream never pins a worker forever.
const DefaultTimeout = 2 * time.Minute
