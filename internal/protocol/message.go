// Package protocol defines the JSON messages exchanged over the WebSocket
// and the validation applied before any of them reach a handler.
package protocol

import "time"

// Inbound message types.
const (
	TypeTerminalCreate      = "terminal-create"
	TypeTerminalWrite       = "terminal-write"
	TypeTerminalResize      = "terminal-resize"
	TypeTerminalClose       = "terminal-close"
	TypeTerminalSubscribe   = "terminal-subscribe"
	TypeTerminalUnsubscribe = "terminal-unsubscribe"
	TypeTerminalList        = "terminal-list"

	TypeChatCreate      = "cli-chat-create"
	TypeChatSend        = "cli-chat-send"
	TypeChatClose       = "cli-chat-close"
	TypeChatSubscribe   = "cli-chat-subscribe"
	TypeChatUnsubscribe = "cli-chat-unsubscribe"
	TypeChatList        = "cli-chat-list"

	TypeProjectSwitch = "project-switch"
	TypeStatus        = "status"
	// Stop interrupts an agent session's in-flight invocation without
	// closing the session.
	TypeStop = "stop"
)

// Outbound message types. Inbound "status" and outbound "status" share a
// name; direction disambiguates.
const (
	TypeError    = "error"
	TypeStatusUp = "status"
	TypeProjects = "projects"
	TypeReady    = "ready"

	TypeTerminalCreated = "terminal-created"
	TypeTerminalOutput  = "terminal-output"
	TypeTerminalExit    = "terminal-exit"
	TypeTerminalListed  = "terminal-list"
	TypeTerminalClosed  = "terminal-closed"

	TypeChatCreated = "cli-chat-created"
	TypeChatEvent   = "cli-chat-event"
	TypeChatListed  = "cli-chat-list"
	TypeChatClosed  = "cli-chat-closed"

	TypeFilesUpdate = "files-update"
)

// Error codes carried on error messages.
const (
	CodeNotFound        = "not-found"
	CodeSpawnFailure    = "spawn-failure"
	CodeAuthFailure     = "auth-failure"
	CodeMalformed       = "malformed-input"
	CodeUpstreamProcess = "upstream-process-error"
	CodeBusy            = "busy"
)

// Inbound is the envelope for every client message. The token rides on each
// message, not just the first, so every mutation is individually checked.
type Inbound struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	SessionID   string `json:"sessionId,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
	Data        string `json:"data,omitempty"`
	Message     string `json:"message,omitempty"`
	Cols        uint16 `json:"cols,omitempty"`
	Rows        uint16 `json:"rows,omitempty"`
}

// Message is the outbound envelope. Payload holds a type-specific value.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an outbound message stamped with the current time.
func New(msgType string, payload any) Message {
	return Message{Type: msgType, Payload: payload, Timestamp: time.Now().UTC()}
}

// ErrorPayload travels on error messages.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// NewError builds a typed error message.
func NewError(code, msg, sessionID string) Message {
	return New(TypeError, ErrorPayload{Code: code, Message: msg, SessionID: sessionID})
}

// SessionRef identifies one session in created/closed acknowledgements.
type SessionRef struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path,omitempty"`
}

// StatusPayload reports daemon state to a client.
type StatusPayload struct {
	Status         string   `json:"status"`
	ActiveProject  string   `json:"activeProject,omitempty"`
	RecentProjects []string `json:"recentProjects,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
	Sessions       int      `json:"sessions"`
	Version        string   `json:"version,omitempty"`
}

// ProjectsPayload announces the active project and the recency-ordered list
// after a switch.
type ProjectsPayload struct {
	ActiveProject  string   `json:"activeProject"`
	RecentProjects []string `json:"recentProjects"`
}

// FilesUpdatePayload notifies subscribers that files changed under a
// session's working directory.
type FilesUpdatePayload struct {
	SessionID string `json:"sessionId"`
	Changes   int    `json:"changes"`
}
