// Package sse implements the two provider dialects of Server-Sent Events as
// pure functions from (buffer, cursor) to (events, new cursor), per
// spec.md §9's guidance to isolate the dialect branches for testability.
// Event field extraction uses gjson rather than full struct unmarshalling,
// mirroring the ad-hoc JSON field pulls in
// original_source/src-c/gateway/handler_chat.c's stream callbacks.
package sse

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Dialect discriminates which provider's event shape a stream uses.
type Dialect int

const (
	DialectAnthropic Dialect = iota
	DialectOpenAI
)

// Event is the normalized signal emitted by a dialect parser.
type Event struct {
	Kind EventKind
	Text string

	// Index is the content-block index the event belongs to (Anthropic
	// only — text and tool_use blocks can interleave in one message, so
	// a streamed tool call's id/name and its input_json_delta fragments
	// must be correlated by this index, not by arrival order).
	Index int

	// ToolUse fields are populated when Kind == EventToolUse (id/name,
	// from content_block_start) or EventToolInputDelta (Text carries one
	// raw JSON fragment to append, from content_block_delta).
	ToolUseID string
	ToolName  string

	InputTokens  int
	OutputTokens int

	// StopReason carries message_delta's delta.stop_reason, e.g.
	// "tool_use" or "end_turn" — set on the same EventUsage that reports
	// final token counts.
	StopReason string

	ErrMessage string
}

type EventKind int

const (
	EventText EventKind = iota
	EventUsage
	EventToolUse
	// EventToolInputDelta carries one fragment of a streamed tool call's
	// JSON arguments; the caller accumulates Text across events sharing
	// the same Index until EventBlockStop closes that index.
	EventToolInputDelta
	// EventBlockStop signals a content block (text or tool_use) is
	// complete; the caller uses it to finalize an accumulated tool call.
	EventBlockStop
	EventDone
	EventError
)

// rawEvent is one "event: x\ndata: y" (or bare "data: y") block.
type rawEvent struct {
	name string
	data []byte
}

// scanRawEvents splits buf into complete SSE blocks delimited by a blank
// line ("\n\n" or "\r\n\r\n"), returning the events found and how many bytes
// were consumed. Bytes after the last complete block are left in the
// buffer for the next call — this function never blocks and never errors;
// a trailing partial block simply isn't returned yet.
func scanRawEvents(buf []byte) ([]rawEvent, int) {
	var events []rawEvent
	consumed := 0

	for {
		idx, sepLen := indexBlankLine(buf[consumed:])
		if idx == -1 {
			break
		}
		block := buf[consumed : consumed+idx]
		consumed += idx + sepLen

		ev := rawEvent{}
		for _, line := range bytes.Split(block, []byte("\n")) {
			line = bytes.TrimRight(line, "\r")
			switch {
			case bytes.HasPrefix(line, []byte("event:")):
				ev.name = string(bytes.TrimSpace(line[len("event:"):]))
			case bytes.HasPrefix(line, []byte("data:")):
				data := bytes.TrimSpace(line[len("data:"):])
				if len(ev.data) == 0 {
					ev.data = append([]byte(nil), data...)
				} else {
					ev.data = append(append(ev.data, '\n'), data...)
				}
			}
		}
		if len(ev.data) > 0 || ev.name != "" {
			events = append(events, ev)
		}
	}

	return events, consumed
}

// indexBlankLine finds the first "\n\n" or "\r\n\r\n" in buf, returning its
// start index and the separator length, or (-1, 0) if none is present.
func indexBlankLine(buf []byte) (int, int) {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i != -1 {
		if j := bytes.Index(buf, []byte("\n\n")); j == -1 || i <= j {
			return i, 4
		}
	}
	if i := bytes.Index(buf, []byte("\n\n")); i != -1 {
		return i, 2
	}
	return -1, 0
}

// Parse consumes complete events from buf for the given dialect, returning
// normalized Events and the number of bytes consumed. Callers append new
// chunk bytes to their own buffer and pass buf[unconsumed:] plus the fresh
// bytes on the next call — this function is stateless.
func Parse(dialect Dialect, buf []byte) ([]Event, int) {
	raws, consumed := scanRawEvents(buf)
	if len(raws) == 0 {
		return nil, 0
	}

	var out []Event
	for _, r := range raws {
		var ev Event
		var ok bool
		switch dialect {
		case DialectAnthropic:
			ev, ok = parseAnthropicEvent(r)
		case DialectOpenAI:
			ev, ok = parseOpenAIEvent(r)
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, consumed
}

func parseAnthropicEvent(r rawEvent) (Event, bool) {
	index := int(gjson.GetBytes(r.data, "index").Int())

	switch r.name {
	case "content_block_delta":
		deltaType := gjson.GetBytes(r.data, "delta.type").String()
		if deltaType == "text_delta" {
			text := gjson.GetBytes(r.data, "delta.text").String()
			return Event{Kind: EventText, Text: text}, true
		}
		if deltaType == "input_json_delta" {
			frag := gjson.GetBytes(r.data, "delta.partial_json").String()
			return Event{Kind: EventToolInputDelta, Index: index, Text: frag}, true
		}
		return Event{}, false
	case "content_block_start":
		if gjson.GetBytes(r.data, "content_block.type").String() == "tool_use" {
			return Event{
				Kind:      EventToolUse,
				Index:     index,
				ToolUseID: gjson.GetBytes(r.data, "content_block.id").String(),
				ToolName:  gjson.GetBytes(r.data, "content_block.name").String(),
			}, true
		}
		return Event{}, false
	case "content_block_stop":
		return Event{Kind: EventBlockStop, Index: index}, true
	case "message_delta":
		in := gjson.GetBytes(r.data, "usage.input_tokens")
		out := gjson.GetBytes(r.data, "usage.output_tokens")
		stopReason := gjson.GetBytes(r.data, "delta.stop_reason").String()
		if in.Exists() || out.Exists() || stopReason != "" {
			return Event{Kind: EventUsage, InputTokens: int(in.Int()), OutputTokens: int(out.Int()), StopReason: stopReason}, true
		}
		return Event{}, false
	case "message_stop":
		return Event{Kind: EventDone}, true
	case "error":
		return Event{Kind: EventError, ErrMessage: gjson.GetBytes(r.data, "error.message").String()}, true
	case "ping":
		return Event{}, false
	default:
		return Event{}, false
	}
}

func parseOpenAIEvent(r rawEvent) (Event, bool) {
	if string(r.data) == "[DONE]" {
		return Event{Kind: EventDone}, true
	}

	if errMsg := gjson.GetBytes(r.data, "error.message"); errMsg.Exists() {
		return Event{Kind: EventError, ErrMessage: errMsg.String()}, true
	}

	if usage := gjson.GetBytes(r.data, "usage"); usage.Exists() {
		return Event{
			Kind:         EventUsage,
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
		}, true
	}

	if content := gjson.GetBytes(r.data, "choices.0.delta.content"); content.Exists() && content.String() != "" {
		return Event{Kind: EventText, Text: content.String()}, true
	}

	return Event{}, false
}
