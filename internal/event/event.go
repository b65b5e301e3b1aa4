// Package event defines the typed output events produced by session
// output parsers and delivered to subscribers.
package event

import "time"

// Kind discriminates output events.
type Kind string

const (
	// Terminal grammar kinds.
	KindRawText   Kind = "raw_text"
	KindPrompt    Kind = "prompt"
	KindThinking  Kind = "thinking"
	KindToolCall  Kind = "tool_call"
	KindCodeFence Kind = "code_fence"

	// Structured-stream grammar kinds.
	KindInit              Kind = "init"
	KindUserMessage       Kind = "user_message"
	KindAssistantChunk    Kind = "assistant_chunk"
	KindAssistantComplete Kind = "assistant_complete"
	KindToolResult        Kind = "tool_result"
	KindComplete          Kind = "complete"
	KindError             Kind = "error"
	KindRaw               Kind = "raw"

	// Lifecycle kinds emitted by the session layer, not the parsers.
	KindHistory Kind = "history"
	KindExit    Kind = "exit"
)

// Stats carries normalized completion statistics from an agent invocation.
// All fields default to zero when absent from the source stream.
type Stats struct {
	TotalTokens  int   `json:"totalTokens"`
	InputTokens  int   `json:"inputTokens"`
	OutputTokens int   `json:"outputTokens"`
	DurationMs   int64 `json:"durationMs"`
	ToolCalls    int   `json:"toolCalls"`
}

// Event is an immutable output or lifecycle event for one session.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content,omitempty"`

	// Tool call/result fields.
	ToolName   string `json:"toolName,omitempty"`
	ToolAction string `json:"toolAction,omitempty"`

	// Code fence fields. Language is only set on block open.
	FenceOpen bool   `json:"fenceOpen,omitempty"`
	Language  string `json:"language,omitempty"`

	// Init fields.
	UpstreamID string `json:"upstreamId,omitempty"`
	Model      string `json:"model,omitempty"`

	Stats    *Stats `json:"stats,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// New returns an event of the given kind stamped with the current time.
func New(kind Kind, sessionID, content string) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
}
