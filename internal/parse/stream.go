package parse

import (
	"encoding/json"
	"strings"

	"github.com/codedeck/deckd/internal/event"
)

// streamLine is the loose shape of one NDJSON line from an agent CLI.
type streamLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Role      string          `json:"role"`
	Delta     bool            `json:"delta"`
	Content   string          `json:"content"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Result    string          `json:"result"`
	Message   string          `json:"message"`
	Stats     *streamStats    `json:"stats"`
}

type streamStats struct {
	TotalTokens  int   `json:"total_tokens"`
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	DurationMs   int64 `json:"duration_ms"`
	ToolCalls    int   `json:"tool_calls"`
}

// StreamParser classifies newline-delimited structured output from an agent
// invocation. One bad line never aborts the stream: malformed JSON is dropped
// and non-JSON status noise is surfaced as a thinking indicator at most.
type StreamParser struct {
	sessionID string
}

// NewStreamParser creates a parser for one session's agent output.
func NewStreamParser(sessionID string) *StreamParser {
	return &StreamParser{sessionID: sessionID}
}

// ParseLine classifies one line. The second return is false when the line
// produced no event (blank, discarded noise, or malformed JSON).
func (p *StreamParser) ParseLine(line string) (event.Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return event.Event{}, false
	}

	if !strings.HasPrefix(trimmed, "{") {
		if strings.Contains(trimmed, "Thinking") || strings.Contains(trimmed, "...") {
			return event.New(event.KindThinking, p.sessionID, trimmed), true
		}
		return event.Event{}, false
	}

	var raw streamLine
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return event.Event{}, false
	}

	switch raw.Type {
	case "init", "system":
		ev := event.New(event.KindInit, p.sessionID, "")
		ev.UpstreamID = raw.SessionID
		ev.Model = raw.Model
		return ev, true

	case "message":
		switch raw.Role {
		case "user":
			return event.New(event.KindUserMessage, p.sessionID, raw.Content), true
		case "assistant":
			if raw.Delta {
				return event.New(event.KindAssistantChunk, p.sessionID, raw.Content), true
			}
			return event.New(event.KindAssistantComplete, p.sessionID, raw.Content), true
		}
		return event.New(event.KindRaw, p.sessionID, trimmed), true

	case "tool_call":
		ev := event.New(event.KindToolCall, p.sessionID, string(raw.Input))
		ev.ToolName = raw.Name
		return ev, true

	case "tool_result":
		ev := event.New(event.KindToolResult, p.sessionID, raw.Result)
		ev.ToolName = raw.Name
		return ev, true

	case "result":
		ev := event.New(event.KindComplete, p.sessionID, raw.Result)
		stats := event.Stats{}
		if raw.Stats != nil {
			stats = event.Stats{
				TotalTokens:  raw.Stats.TotalTokens,
				InputTokens:  raw.Stats.InputTokens,
				OutputTokens: raw.Stats.OutputTokens,
				DurationMs:   raw.Stats.DurationMs,
				ToolCalls:    raw.Stats.ToolCalls,
			}
		}
		ev.Stats = &stats
		return ev, true

	case "error":
		msg := raw.Message
		if msg == "" {
			msg = "agent reported an unspecified error"
		}
		return event.New(event.KindError, p.sessionID, msg), true

	default:
		// Unknown discriminator: pass the original line through so newer
		// CLI versions still reach the client.
		return event.New(event.KindRaw, p.sessionID, trimmed), true
	}
}

// ChunkAccumulator concatenates streaming assistant chunks so consumers
// always see the full text so far, not just the latest delta.
type ChunkAccumulator struct {
	buf strings.Builder
}

// Add appends a chunk and returns the accumulated text.
func (a *ChunkAccumulator) Add(chunk string) string {
	a.buf.WriteString(chunk)
	return a.buf.String()
}

// Current returns the accumulated text without modifying it.
func (a *ChunkAccumulator) Current() string {
	return a.buf.String()
}

// Complete returns the final accumulated text and resets the accumulator.
func (a *ChunkAccumulator) Complete() string {
	text := a.buf.String()
	a.buf.Reset()
	return text
}
